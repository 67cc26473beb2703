package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wondertwin-ai/recordtwin/internal/api"
	"github.com/wondertwin-ai/recordtwin/internal/client"
	"github.com/wondertwin-ai/recordtwin/internal/config"
	"github.com/wondertwin-ai/recordtwin/internal/recordclient"
	"github.com/wondertwin-ai/recordtwin/internal/webapi"
)

const envPrefix = "RECORDCTL"

// defaultUser is the caller identity minted into twin tokens when the
// profile carries neither a token nor a user.
const defaultUser = "recordctl"

// app carries the resolved global settings shared by every subcommand.
type app struct {
	v      *viper.Viper
	out    io.Writer
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{
		v: viper.NewWithOptions(
			viper.EnvKeyReplacer(strings.NewReplacer("-", "_")),
		),
	}
	a.v.SetEnvPrefix(envPrefix)
	a.v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "recordctl",
		Short:         "Create, read, update, delete and query records",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.out = cmd.OutOrStdout()
			level := slog.LevelWarn
			if a.v.GetBool("verbose") {
				level = slog.LevelDebug
			}
			a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "Config file (default ~/.recordtwin/config.yaml)")
	flags.StringP("profile", "p", "", "Profile to use (default: the config's current profile)")
	flags.String("url", "", "Record store base URL, overrides the profile")
	flags.String("token", "", "Bearer token, overrides the profile")
	flags.String("user", "", "Caller identity minted into a twin token when no token is set")
	flags.String("api-version", "", "Web API version, e.g. v9.2")
	flags.Duration("timeout", 0, "Per-request timeout")
	flags.Int("retries", 0, "Retry idempotent requests on 429/5xx this many times")
	flags.BoolP("verbose", "v", false, "Enable debug logging")
	_ = a.v.BindPFlags(flags)

	root.AddCommand(
		a.createCmd(),
		a.getCmd(),
		a.listCmd(),
		a.updateCmd(),
		a.deleteCmd(),
		a.seedCmd(),
		a.demoCmd(),
		a.runCmd(),
		a.profileCmd(),
		a.twinCmd(),
	)
	return root
}

// loadConfig reads the config file named by --config, or the default one.
func (a *app) loadConfig() (*config.Config, string, error) {
	path := a.v.GetString("config")
	if path == "" {
		p, err := config.Path()
		if err != nil {
			return nil, "", err
		}
		path = p
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// profile returns the selected profile with flag and environment overrides
// applied on top.
func (a *app) profile() (config.Profile, error) {
	cfg, _, err := a.loadConfig()
	if err != nil {
		return config.Profile{}, err
	}
	p, err := cfg.Profile(a.v.GetString("profile"))
	if err != nil {
		return config.Profile{}, err
	}
	if s := a.v.GetString("url"); s != "" {
		p.URL = s
	}
	if s := a.v.GetString("token"); s != "" {
		p.Token = s
	}
	if s := a.v.GetString("user"); s != "" {
		p.User = s
	}
	if s := a.v.GetString("api-version"); s != "" {
		p.APIVersion = s
	}
	if d := a.v.GetDuration("timeout"); d > 0 {
		p.Timeout = d
	}
	if err := p.Validate(); err != nil {
		return config.Profile{}, err
	}
	return p, nil
}

// webAPI builds the Web API client for the selected profile. Without a token
// the client presents one minted for the profile's user, which a twin
// accepts.
func (a *app) webAPI() (*webapi.Client, error) {
	p, err := a.profile()
	if err != nil {
		return nil, err
	}

	token := p.Token
	if token == "" {
		user := p.User
		if user == "" {
			user = defaultUser
		}
		if token, err = api.MintToken(user); err != nil {
			return nil, fmt.Errorf("minting token: %w", err)
		}
	}

	opts := []webapi.Option{webapi.WithToken(token), webapi.WithLogger(a.logger)}
	if p.Timeout > 0 {
		opts = append(opts, webapi.WithTimeout(p.Timeout))
	}
	if p.APIVersion != "" {
		opts = append(opts, webapi.WithVersion(p.APIVersion))
	}
	for logical, set := range p.EntitySets {
		opts = append(opts, webapi.WithEntitySet(logical, set))
	}
	if n := a.v.GetInt("retries"); n > 0 {
		opts = append(opts, webapi.WithRetry(n, 500*time.Millisecond))
	}
	return webapi.New(p.URL, opts...)
}

func (a *app) recordClient() (*recordclient.Client, error) {
	wc, err := a.webAPI()
	if err != nil {
		return nil, err
	}
	return recordclient.New(wc)
}

func (a *app) adminClient() (*client.AdminClient, error) {
	p, err := a.profile()
	if err != nil {
		return nil, err
	}
	return client.New(p.URL), nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
