// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command dsfsrecord mounts a FUSE passthrough filesystem over an
// underlying directory and appends every namespace- and data-mutating
// operation it observes to an s-expression log (spec.md §4.1, §6).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jacobsa/fuse"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/crashconsistency/dsfs/cfg"
	"github.com/crashconsistency/dsfs/internal/clock"
	"github.com/crashconsistency/dsfs/internal/logger"
	"github.com/crashconsistency/dsfs/internal/oplog"
	"github.com/crashconsistency/dsfs/internal/recorder"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dsfsrecord mount_point underlying_dir log_file",
		Short: "Record filesystem operations performed through a FUSE mount as an ordered log",
		Args:  cobra.ExactArgs(3),
		RunE:  run,
	}
	cmd.Flags().StringVar(&cfgFile, "config-file", "", "optional YAML config file layered beneath the flags")
	cfg.BindRecordFlags(cmd.Flags())
	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	mountPoint, underlyingDir, logPath := args[0], args[1], args[2]

	v := viper.New()
	recordCfg, err := cfg.LoadRecordConfig(v, cmd.Flags(), cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := logger.InitLogFile(logger.DefaultRotateConfig(), recordCfg.Logging); err != nil {
		return fmt.Errorf("initializing log file: %w", err)
	}

	sessionID := uuid.New().String()
	clk := clock.New()
	startedAt := clk.Now()
	logger.Infof("starting recording session %s: mount=%s underlying=%s log=%s", sessionID, mountPoint, underlyingDir, logPath)

	logFile, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("creating op log %q: %w", logPath, err)
	}
	defer logFile.Close()

	w := oplog.NewWriter(logFile)
	server := recorder.NewServer(underlyingDir, w, recordCfg.Echo)

	mountCfg := &fuse.MountConfig{
		FSName:     "dsfsrecord",
		Subtype:    "dsfsrecord",
		VolumeName: "dsfsrecord",
	}

	mfs, err := fuse.Mount(mountPoint, server, mountCfg)
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	logger.Infof("mounted at %s, recording until unmount", mountPoint)

	if err := mfs.Join(context.Background()); err != nil {
		return fmt.Errorf("waiting for unmount: %w", err)
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing op log: %w", err)
	}

	logger.Infof("recording session %s finished after %s", sessionID, clk.Now().Sub(startedAt))
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
