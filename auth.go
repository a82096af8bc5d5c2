package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wesnick/gw/pkg/gw"
	"github.com/wesnick/gw/pkg/gw/reporting"
)

type authLoginOutput struct {
	OK              bool     `json:"ok"`
	Action          string   `json:"action"`
	AuthMode        gw.Mode  `json:"authMode"`
	CredentialsPath string   `json:"credentialsPath,omitempty"`
	TokenPath       string   `json:"tokenPath"`
	BrowserOpened   bool     `json:"browserOpened"`
	CallbackPort    int      `json:"callbackPort"`
	Scopes          []string `json:"scopes"`
}

func runAuthLogin(ctx context.Context, authz *gw.Authorizer, mode string, noOpen bool, out *outputWriter) error {
	res, err := authz.Login(ctx, gw.LoginOptions{Mode: mode, NoOpen: noOpen})
	if err != nil {
		return err
	}

	output := authLoginOutput{
		OK:              true,
		Action:          "auth.login",
		AuthMode:        res.Mode,
		CredentialsPath: res.CredentialsPath,
		TokenPath:       res.TokenPath,
		BrowserOpened:   res.BrowserOpened,
		CallbackPort:    res.CallbackPort,
		Scopes:          res.Scopes,
	}
	return out.write(output, func() error {
		out.writeMessage(fmt.Sprintf("Signed in (%s mode). Token saved to %s", res.Mode, res.TokenPath))
		return nil
	})
}

type authStatusOutput struct {
	OK              bool     `json:"ok"`
	Action          string   `json:"action"`
	Authenticated   bool     `json:"authenticated"`
	AuthMode        gw.Mode  `json:"authMode"`
	DefaultAuthMode gw.Mode  `json:"defaultAuthMode"`
	TokenPath       string   `json:"tokenPath"`
	Scopes          []string `json:"scopes"`
	ExpiryDate      int64    `json:"expiryDate,omitempty"`
	Expired         bool     `json:"expired"`
	GrantedScopes   []string `json:"grantedScopes,omitempty"`
	MissingScopes   []string `json:"missingScopes,omitempty"`
	ScopeDiff       string   `json:"scopeDiff,omitempty"`
}

func runAuthStatus(authz *gw.Authorizer, mode string, diff bool, out *outputWriter) error {
	st, err := authz.Status(mode)
	if err != nil {
		return err
	}

	output := authStatusOutput{
		OK:              true,
		Action:          "auth.status",
		Authenticated:   st.Authenticated,
		AuthMode:        st.Mode,
		DefaultAuthMode: st.DefaultMode,
		TokenPath:       st.TokenPath,
		Scopes:          st.Scopes,
		ExpiryDate:      st.ExpiryDate,
		Expired:         st.Expired,
		GrantedScopes:   st.GrantedScopes,
	}
	// Tokens saved without a scope string say nothing about what is missing.
	if len(st.GrantedScopes) > 0 {
		output.MissingScopes = reporting.MissingScopes(st.Scopes, st.GrantedScopes)
	}
	if diff && st.Authenticated {
		d, err := reporting.ScopeDiff(st.Scopes, st.GrantedScopes)
		if err != nil {
			return err
		}
		output.ScopeDiff = d
	}

	return out.write(output, func() error {
		fields := [][2]string{
			{"Authenticated", strconv.FormatBool(st.Authenticated)},
			{"Mode", string(st.Mode)},
			{"Default mode", string(st.DefaultMode)},
			{"Token", st.TokenPath},
		}
		if st.ExpiryDate > 0 {
			fields = append(fields, [2]string{"Expires", time.UnixMilli(st.ExpiryDate).Format(time.RFC3339)})
			fields = append(fields, [2]string{"Expired", strconv.FormatBool(st.Expired)})
		}
		if len(output.MissingScopes) > 0 {
			fields = append(fields, [2]string{"Missing scopes", strings.Join(output.MissingScopes, ", ")})
		}
		if err := out.writeFields(fields); err != nil {
			return err
		}
		if output.ScopeDiff != "" {
			fmt.Fprint(out.writer, "\n"+reporting.ColorizeDiff(output.ScopeDiff, !out.noColor))
		}
		return nil
	})
}

type authLogoutOutput struct {
	OK        bool   `json:"ok"`
	Action    string `json:"action"`
	TokenPath string `json:"tokenPath"`
}

func runAuthLogout(authz *gw.Authorizer, out *outputWriter) error {
	if err := authz.Logout(); err != nil {
		return err
	}
	output := authLogoutOutput{OK: true, Action: "auth.logout", TokenPath: authz.Store.Path}
	return out.write(output, func() error {
		out.writeMessage("Signed out. Removed " + authz.Store.Path)
		return nil
	})
}

type tokenInfoOutput struct {
	OK        bool          `json:"ok"`
	Action    string        `json:"action"`
	TokenInfo *gw.TokenInfo `json:"tokenInfo"`
}

func runAuthTokenInfo(ctx context.Context, conn *gw.Connection, out *outputWriter) error {
	info, err := conn.GetTokenInfo(ctx)
	if err != nil {
		return err
	}

	output := tokenInfoOutput{OK: true, Action: "auth.token-info", TokenInfo: info}
	return out.write(output, func() error {
		fields := [][2]string{
			{"Email", info.Email},
			{"Email verified", strconv.FormatBool(info.EmailVerified)},
			{"Expires in", (time.Duration(info.ExpiresIn) * time.Second).String()},
			{"Audience", info.Audience},
		}
		if err := out.writeFields(fields); err != nil {
			return err
		}
		out.writeMessage("\nScopes:")
		for _, s := range info.Scopes {
			out.writeMessage("  " + s)
		}
		return nil
	})
}
