package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskmanagement/client"
	"taskmanagement/config"
	"taskmanagement/store"
)

// app is what every subcommand works with once flags are parsed.
type app struct {
	cfg       config.Config
	remote    *client.Client
	tasks     *store.Tasks
	mutations *store.Mutations
	logger    *log.Logger
	out       io.Writer
	asJSON    bool
	now       func() time.Time
}

type rootFlags struct {
	configPath string
	baseURL    string
	token      string
	asJSON     bool
	verbose    bool
}

func newRootCmd() *cobra.Command {
	var (
		flags rootFlags
		a     = &app{now: time.Now}
	)
	root := &cobra.Command{
		Use:           "taskctl",
		Short:         "Inspect and edit tasks",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["skipClient"] == "true" {
				return nil
			}
			return a.init(cmd, flags)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default $"+config.EnvFile+")")
	pf.StringVar(&flags.baseURL, "url", "", "task API base url")
	pf.StringVar(&flags.token, "token", "", "bearer token")
	pf.BoolVarP(&flags.asJSON, "json", "j", false, "print JSON")
	pf.BoolVar(&flags.verbose, "verbose", false, "log requests")

	root.AddCommand(
		listCmd(a),
		showCmd(a),
		createCmd(a),
		updateCmd(a),
		moveCmd(a),
		toggleCmd(a),
		cycleCmd(a),
		deleteCmd(a),
		statsCmd(a),
		projectsCmd(a),
		configCmd(&flags),
	)
	return root
}

func (a *app) init(cmd *cobra.Command, flags rootFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	if flags.baseURL != "" {
		cfg.Client.BaseURL = flags.baseURL
	}
	if flags.token != "" {
		cfg.Client.Token = flags.token
	}
	if err := cfg.ValidateClient(); err != nil {
		return err
	}

	logger := log.New()
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetLevel(log.WarnLevel)
	if flags.verbose || cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	opts := []client.Option{
		client.WithLogger(logger),
		client.WithHTTPClient(&http.Client{Timeout: cfg.Client.Timeout}),
		client.WithPageSize(cfg.Client.PageSize),
		client.WithGzip(cfg.Client.GzipThreshold),
	}
	switch {
	case cfg.Client.Token != "":
		opts = append(opts, client.WithTokenSource(client.StaticToken(cfg.Client.Token)))
	case cfg.Client.TokenSecret != "":
		ts, err := client.NewHS256TokenSource(cfg.Client.TokenSecret, cfg.Client.TokenSubject, time.Hour)
		if err != nil {
			return err
		}
		opts = append(opts, client.WithTokenSource(ts))
	}
	remote, err := client.New(cfg.Client.BaseURL, opts...)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.remote = remote
	a.logger = logger
	a.out = cmd.OutOrStdout()
	a.asJSON = flags.asJSON
	a.tasks = store.NewTasks(remote, store.WithLogger(logger), store.WithMaxAge(cfg.Client.CacheMaxAge))
	a.mutations = store.NewMutations(remote, a.tasks)
	return nil
}

func configCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage the config file"}
	cmd.AddCommand(&cobra.Command{
		Use:         "init <path>",
		Short:       "Write the default settings to a file",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipClient": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			if err := cfg.Save(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return nil
		},
	})
	return cmd
}
