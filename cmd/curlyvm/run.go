// Copyright 2022 CurlyVM. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strconv"
	"strings"

	curlyvm "github.com/akrajewski/curlyvm"
	"github.com/spf13/cobra"
)

var (
	methodName string
	className  string
)

var runCmd = &cobra.Command{
	Use:   "run <file.class> [arg...]",
	Short: "Execute a method of a class file and print the returned value",
	Long: `run loads the given class file, executes the selected method with the
supplied literal arguments and prints the returned typed value.

Argument literals follow Java suffix conventions: 42 is an int, 42L a
long, 2.5 a double, 2.5f a float, and null the null reference.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, cliArgs []string) error {
		cmd.SilenceUsage = true
		return runClass(cliArgs[0], cliArgs[1:])
	},
}

func init() {
	runCmd.Flags().StringVarP(&methodName, "method", "m", "main",
		"name of the method to execute")
	runCmd.Flags().StringVarP(&className, "class", "c", "",
		"class to execute (defaults to the class named by the file)")
}

func runClass(filename string, literals []string) error {
	args := make([]curlyvm.Value, 0, len(literals))
	for _, lit := range literals {
		v, err := parseLiteral(lit)
		if err != nil {
			return err
		}
		args = append(args, v)
	}

	vm, err := curlyvm.NewVM(newOptions(), filename)
	if err != nil {
		return err
	}
	defer vm.Close()

	target := className
	if target == "" {
		// The file just loaded is the only entry in the method area.
		target = vm.MethodArea.Names()[0]
	}

	result, err := vm.Run(target, methodName, args)
	if err != nil {
		return fmt.Errorf("running %s.%s: %w", target, methodName, err)
	}

	fmt.Println(result)
	return nil
}

// parseLiteral turns a command line literal into a typed value.
func parseLiteral(s string) (curlyvm.Value, error) {
	if s == "null" {
		return curlyvm.Null, nil
	}

	if strings.HasSuffix(s, "L") || strings.HasSuffix(s, "l") {
		v, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
		if err != nil {
			return curlyvm.Empty, fmt.Errorf("bad long literal %q: %w", s, err)
		}
		return curlyvm.LongValue(v), nil
	}

	if strings.HasSuffix(s, "F") || strings.HasSuffix(s, "f") {
		v, err := strconv.ParseFloat(s[:len(s)-1], 32)
		if err != nil {
			return curlyvm.Empty, fmt.Errorf("bad float literal %q: %w", s, err)
		}
		return curlyvm.FloatValue(float32(v)), nil
	}

	if strings.ContainsAny(s, ".eE") {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return curlyvm.Empty, fmt.Errorf("bad double literal %q: %w", s, err)
		}
		return curlyvm.DoubleValue(v), nil
	}

	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return curlyvm.Empty, fmt.Errorf("bad int literal %q: %w", s, err)
	}
	return curlyvm.IntValue(int32(v)), nil
}
