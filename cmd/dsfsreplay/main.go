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

// Command dsfsreplay reads an s-expression operation log produced by
// dsfsrecord and reconstructs its effects against a target directory,
// modeling delayed writeback and a simulated crash (spec.md §4, §6).
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/crashconsistency/dsfs/cfg"
	"github.com/crashconsistency/dsfs/internal/logger"
	"github.com/crashconsistency/dsfs/internal/oplog"
	"github.com/crashconsistency/dsfs/internal/replay"
	"github.com/crashconsistency/dsfs/internal/replay/sectorcache"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dsfsreplay log_file target_path",
		Short: "Replay a recorded operation log onto a target directory",
		Args:  cobra.ExactArgs(2),
		RunE:  run,
	}
	cmd.Flags().StringVar(&cfgFile, "config-file", "", "optional YAML config file layered beneath the flags")
	cfg.BindReplayFlags(cmd.Flags())
	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	logPath, targetPath := args[0], args[1]

	v := viper.New()
	replayCfg, err := cfg.LoadReplayConfig(v, cmd.Flags(), cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	replayCfg.TargetPath = targetPath

	if err := logger.InitLogFile(logger.DefaultRotateConfig(), replayCfg.Logging); err != nil {
		return fmt.Errorf("initializing log file: %w", err)
	}

	writeback, err := sectorcache.ParseWritebackMode(replayCfg.Writeback)
	if err != nil {
		return fmt.Errorf("parsing --writeback: %w", err)
	}

	logFile, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("opening op log %q: %w", logPath, err)
	}
	defer logFile.Close()

	replayer := replay.New(replayCfg.TargetPath, replayCfg.SectorSize, writeback)
	filter := replay.NewFilter(replayer, replayCfg.Skip, replayCfg.Take, replayCfg.StartTouch, replayCfg.StopTouch)

	parser := oplog.NewParser(logFile)
	applied := 0
	line := 0

	for !filter.Done() {
		op, err := parser.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("parsing op log: %w", err)
		}
		line++

		ok, err := filter.Apply(op)
		if err != nil {
			return fmt.Errorf("while processing line %d: replaying %s: %w", line, op.Type, err)
		}
		if ok {
			applied++
		}
	}

	if !filter.Done() {
		if err := replayer.LosePower(); err != nil {
			return fmt.Errorf("simulating crash at end of log: %w", err)
		}
	}

	logger.Infof("replayed %d operations into %s", applied, replayCfg.TargetPath)
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
