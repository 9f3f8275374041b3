package tokenstore

import (
	"github.com/wonny/kisradar/pkg/config"
)

// CredentialsFromConfig builds environment-sourced credentials.
// Returns nil when the required key pair is not configured.
func CredentialsFromConfig(cfg config.KISConfig) *Credentials {
	creds := &Credentials{
		AppKey:    cfg.AppKey,
		AppSecret: cfg.AppSecret,
		AccountNo: cfg.AccountNo,
		Source:    SourceLocalEnvironment,
	}
	if !creds.Complete() {
		return nil
	}
	return creds
}
