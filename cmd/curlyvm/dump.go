// Copyright 2022 CurlyVM. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"

	curlyvm "github.com/akrajewski/curlyvm"
	klog "github.com/go-kratos/kratos/v2/log"
	"github.com/spf13/cobra"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <file.class>",
	Short: "Dump the parsed structure of a class file as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return dumpClass(args[0])
	},
}

func prettyPrint(buff []byte) string {
	var prettyJSON bytes.Buffer
	err := json.Indent(&prettyJSON, buff, "", "\t")
	if err != nil {
		log.Println("JSON parse error: ", err)
		return string(buff)
	}

	return prettyJSON.String()
}

func newOptions() *curlyvm.Options {
	opts := curlyvm.Options{}
	if verbose {
		opts.Logger = klog.NewFilter(klog.NewStdLogger(os.Stderr),
			klog.FilterLevel(klog.LevelDebug))
	}
	return &opts
}

func dumpClass(filename string) error {
	file, err := curlyvm.New(filename, newOptions())
	if err != nil {
		return fmt.Errorf("opening %s: %w", filename, err)
	}
	defer file.Close()

	if err := file.Parse(); err != nil {
		return fmt.Errorf("parsing %s: %w", filename, err)
	}

	dump, err := json.Marshal(file)
	if err != nil {
		return err
	}
	fmt.Println(prettyPrint(dump))
	return nil
}
