// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/cfgstruct"
	"storj.io/common/fpath"
	"storj.io/common/process"
	"storj.io/common/uuid"

	"github.com/seiscenter/metad/curation"
	"github.com/seiscenter/metad/curation/indexdb"
	"github.com/seiscenter/metad/curation/stationxml"
	"github.com/seiscenter/metad/curation/users"
)

var (
	rootCmd = &cobra.Command{
		Use:   "metad",
		Short: "Station metadata curation node",
	}
	setupCmd = &cobra.Command{
		Use:         "setup",
		Short:       "Create config files",
		RunE:        cmdSetup,
		Annotations: map[string]string{"type": "setup"},
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the curation node",
		RunE:  cmdRun,
	}
	useraddCmd = &cobra.Command{
		Use:   "useradd <name>",
		Short: "Create a submitter account",
		Args:  cobra.ExactArgs(1),
		RunE:  cmdUseradd,
	}

	confDir string

	runCfg     Config
	setupCfg   Config
	useraddCfg UseraddConfig
)

// Config is the complete node configuration.
type Config struct {
	DatabasePath string `help:"path of the sqlite index database" default:"$CONFDIR/metad.db"`

	curation.Config
}

// UseraddConfig holds the useradd command's parameters.
type UseraddConfig struct {
	DatabasePath string `help:"path of the sqlite index database" default:"$CONFDIR/metad.db"`

	Password     string `help:"password of the new account" default:""`
	Admin        bool   `help:"grant the admin role" default:"false"`
	Network      string `help:"network code the operator is bound to" default:""`
	NetworkStart string `help:"start date of the bound network, e.g. 1980-01-01" default:""`
}

func cmdSetup(cmd *cobra.Command, args []string) (err error) {
	setupDir, err := filepath.Abs(confDir)
	if err != nil {
		return err
	}

	valid, _ := fpath.IsValidSetupDir(setupDir)
	if !valid {
		return fmt.Errorf("metad configuration already exists (%v)", setupDir)
	}

	err = os.MkdirAll(setupDir, 0700)
	if err != nil {
		return err
	}

	return process.SaveConfig(cmd, filepath.Join(setupDir, "config.yaml"))
}

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	db, err := indexdb.Open(ctx, log.Named("db"), runCfg.DatabasePath)
	if err != nil {
		return errs.New("error opening index database: %+v", err)
	}
	defer func() {
		err = errs.Combine(err, db.Close())
	}()

	peer, err := curation.New(log, db, runCfg.Config)
	if err != nil {
		return err
	}

	runErr := peer.Run(ctx)
	closeErr := peer.Close()
	return errs.Combine(runErr, closeErr)
}

func cmdUseradd(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	if useraddCfg.Password == "" {
		return errs.New("a password is required")
	}

	db, err := indexdb.Open(ctx, log.Named("db"), useraddCfg.DatabasePath)
	if err != nil {
		return errs.New("error opening index database: %+v", err)
	}
	defer func() {
		err = errs.Combine(err, db.Close())
	}()

	id, err := uuid.New()
	if err != nil {
		return err
	}
	user := users.User{
		ID:   id,
		Name: args[0],
		Role: users.RoleOperator,
	}
	if useraddCfg.Admin {
		user.Role = users.RoleAdmin
	}

	switch {
	case useraddCfg.Network != "":
		start, err := stationxml.ParseTime(useraddCfg.NetworkStart)
		if err != nil {
			return errs.New("invalid network start: %+v", err)
		}
		user.Prototype = &users.Binding{Code: useraddCfg.Network, Start: start}
	case !useraddCfg.Admin:
		return errs.New("an operator needs a network binding")
	}

	if err := db.Users().Create(ctx, user, useraddCfg.Password); err != nil {
		return err
	}
	fmt.Printf("created %s (%s)\n", user.Name, roleName(user.Role))
	return nil
}

func roleName(role users.Role) string {
	if role == users.RoleAdmin {
		return "admin"
	}
	return "operator"
}

func init() {
	defaultConfDir := fpath.ApplicationDir("seiscenter", "metad")
	cfgstruct.SetupFlag(zap.L(), rootCmd, &confDir, "config-dir", defaultConfDir, "main directory for metad configuration")
	defaults := cfgstruct.DefaultsFlag(rootCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(useraddCmd)
	process.Bind(runCmd, &runCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(setupCmd, &setupCfg, defaults, cfgstruct.ConfDir(confDir), cfgstruct.SetupMode())
	process.Bind(useraddCmd, &useraddCfg, defaults, cfgstruct.ConfDir(confDir))
}

func main() {
	logger, _, _ := process.NewLogger("metad")
	zap.ReplaceGlobals(logger)

	process.Exec(rootCmd)
}
