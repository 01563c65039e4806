// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

// Package pamauth authenticates (username, password) pairs against the
// host's PAM stack (§4.B) and resolves the matching OS user record.
//
// It also implements the local credentials-file bypass described in §4.K
// and §9: when the presented username's home directory has a
// ~/.webx/cli.secret file present with mode 0600, the router
// authenticates via the "su" PAM service instead of the configured
// service — grounded on the original implementation's
// is_credentials_file/validate_credentials_file split
// (authentication/authenticator.rs), which delegates to the existing
// "su" PAM stack rather than inventing a side channel. internal/clicreds
// owns generating and verifying that file's contents; pamauth only uses
// its presence to pick a PAM service.
package pamauth

import (
	"fmt"
	"os"
	"os/user"
	"strconv"

	"github.com/msteinert/pam/v2"

	"github.com/ILLGrenoble/webx-router/internal/clicreds"
	"github.com/ILLGrenoble/webx-router/internal/routererr"
	"github.com/ILLGrenoble/webx-router/internal/secretbuf"
)

// Account is the resolved OS user record returned on successful
// authentication.
type Account struct {
	Username string
	UID      uint32
	GID      uint32
	Home     string
}

// Authenticator validates credentials against a named PAM service.
type Authenticator struct {
	service string
}

// New creates an Authenticator using the given PAM service name.
func New(service string) *Authenticator {
	return &Authenticator{service: service}
}

// Authenticate validates username/password via PAM and resolves the OS
// user record. password is held in a secretbuf.Buffer by the caller and
// is never logged here nor forwarded to a child process environment
// (§7). On success returns the resolved Account; on bad credentials
// returns a *routererr.Error of KindAuthentication; on a user PAM
// accepts but the OS does not know, KindUserNotFound (§9, deliberately
// not attempting a passwd-file fallback — see DESIGN.md); any other PAM
// failure is KindPam.
func (a *Authenticator) Authenticate(username string, password *secretbuf.Buffer) (*Account, error) {
	service := a.service
	if isLocalCredentialsFile(username) {
		service = "su"
	}

	if err := a.authenticateWithService(service, username, password); err != nil {
		return nil, err
	}

	account, err := resolveAccount(username)
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (a *Authenticator) authenticateWithService(service, username string, password *secretbuf.Buffer) error {
	transaction, err := pam.StartFunc(service, username, func(style pam.Style, message string) (string, error) {
		switch style {
		case pam.PromptEchoOff, pam.PromptEchoOn:
			return password.String(), nil
		default:
			return "", nil
		}
	})
	if err != nil {
		return routererr.Wrap(routererr.KindPam, "starting PAM transaction", err)
	}

	if err := transaction.Authenticate(0); err != nil {
		return routererr.Wrap(routererr.KindAuthentication, fmt.Sprintf("authenticating user %q", username), err)
	}

	if err := transaction.AcctMgmt(0); err != nil {
		return routererr.Wrap(routererr.KindAuthentication, fmt.Sprintf("account validation failed for user %q", username), err)
	}

	return nil
}

func resolveAccount(username string) (*Account, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return nil, routererr.Wrap(routererr.KindUserNotFound, fmt.Sprintf("user %q not found", username), err)
	}

	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, routererr.Wrap(routererr.KindInternal, "parsing uid", err)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, routererr.Wrap(routererr.KindInternal, "parsing gid", err)
	}
	if u.HomeDir == "" {
		return nil, routererr.New(routererr.KindUserNotFound, fmt.Sprintf("user %q has no home directory", username))
	}

	return &Account{
		Username: username,
		UID:      uint32(uid),
		GID:      uint32(gid),
		Home:     u.HomeDir,
	}, nil
}

// isLocalCredentialsFile reports whether username has a present,
// correctly-permissioned ~/.webx/cli.secret — the precondition for the
// CLI credentials-file bypass (§4.K, §9). A missing file, wrong mode, or
// unresolvable home directory falls through to the configured PAM
// service instead, never treated as an error here.
func isLocalCredentialsFile(username string) bool {
	u, err := user.Lookup(username)
	if err != nil {
		return false
	}
	info, err := os.Stat(clicreds.Path(u.HomeDir))
	if err != nil {
		return false
	}
	return info.Mode().Perm() == 0600
}

// EnvironmentFor synthesizes the sanitized environment passed to
// privilege-dropped children spawned on behalf of account — never
// includes the password or any PAM internals (§7).
func EnvironmentFor(account *Account, extra map[string]string) []string {
	env := []string{
		"HOME=" + account.Home,
		"USER=" + account.Username,
		"LOGNAME=" + account.Username,
		"PATH=/usr/bin:/bin:/usr/local/bin",
	}
	for key, value := range extra {
		env = append(env, key+"="+value)
	}
	return env
}
