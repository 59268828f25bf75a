package ldap

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"codeberg.org/dirmirror/dirmirror/pkg/config"
	"codeberg.org/dirmirror/dirmirror/pkg/directory"
)

func init() {
	directory.Register("ldap", func(cfg *config.DirectoryConfig, logger *zap.Logger) (directory.Reader, error) {
		return New(&cfg.LDAP, logger)
	})
}

func New(cfg *config.LDAPConfig, logger *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("ldap: 'url' is a required field")
	}
	if cfg.UserBaseDN == "" || cfg.GroupBaseDN == "" {
		return nil, fmt.Errorf("ldap: 'userBaseDN' and 'groupBaseDN' are required fields")
	}

	userFilter := cfg.UserFilter
	if userFilter == "" {
		userFilter = "(objectClass=inetOrgPerson)"
	}
	groupFilter := cfg.GroupFilter
	if groupFilter == "" {
		groupFilter = "(objectClass=groupOfNames)"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		url:          cfg.URL,
		bindDN:       cfg.BindDN,
		bindPassword: cfg.BindPassword,
		userBaseDN:   cfg.UserBaseDN,
		groupBaseDN:  cfg.GroupBaseDN,
		userFilter:   userFilter,
		groupFilter:  groupFilter,
		timeout:      timeout,
		logger:       logger.With(zap.String("directory", "ldap")),
	}, nil
}
