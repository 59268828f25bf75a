package scim

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"codeberg.org/dirmirror/dirmirror/pkg/config"
	"codeberg.org/dirmirror/dirmirror/pkg/directory"
)

// tokenExpirySkew refreshes the cached token this long before the
// directory-reported expiry.
const tokenExpirySkew = 30 * time.Second

func init() {
	directory.Register("scim", func(cfg *config.DirectoryConfig, logger *zap.Logger) (directory.Reader, error) {
		return New(&cfg.SCIM, logger)
	})
}

func New(cfg *config.SCIMConfig, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("scim: 'baseURL' is a required field")
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	httpClient := &http.Client{Timeout: timeout}

	if cfg.TokenURL != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		}

		// Token refreshes go through the plain client; concurrent
		// callers share a single in-flight refresh.
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
		src := oauth2.ReuseTokenSourceWithExpiry(nil, cc.TokenSource(ctx), tokenExpirySkew)
		httpClient = oauth2.NewClient(ctx, src)
		httpClient.Timeout = timeout
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     httpClient,
		pageSize: pageSize,
		logger:   logger.With(zap.String("directory", "scim")),
	}, nil
}
