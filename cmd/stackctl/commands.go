package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/stackwire/internal/auth"
	"github.com/danmuck/stackwire/internal/value"
	"github.com/spf13/cobra"
)

func (a *app) pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the server answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			start := time.Now()
			if err := conn.Ping(); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			s := conn.Session()
			fmt.Fprintf(cmd.OutOrStdout(), "pong in %s (version %d, frame size %d)\n",
				time.Since(start).Round(time.Microsecond), s.Version(), s.FrameSize())
			return nil
		},
	}
}

func (a *app) globalsCmd() *cobra.Command {
	var withTypes bool
	cmd := &cobra.Command{
		Use:   "globals",
		Short: "List global values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			names, err := conn.ListGlobals()
			if err != nil {
				return fmt.Errorf("list globals: %w", err)
			}
			rows := make([][]string, 0, len(names))
			for _, name := range names {
				if !withTypes {
					rows = append(rows, []string{name})
					continue
				}
				desc, err := conn.DescribeGlobal(name)
				if err != nil {
					return fmt.Errorf("describe global %s: %w", name, err)
				}
				rows = append(rows, []string{name, desc.String()})
			}
			header := []string{"GLOBAL"}
			if withTypes {
				header = append(header, "TYPE")
			}
			return a.render(cmd.OutOrStdout(), header, rows)
		},
	}
	cmd.Flags().BoolVar(&withTypes, "types", false, "describe each global")
	return cmd
}

func (a *app) procsCmd() *cobra.Command {
	var withSignatures bool
	cmd := &cobra.Command{
		Use:   "procs",
		Short: "List procedures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			names, err := conn.ListProcedures()
			if err != nil {
				return fmt.Errorf("list procedures: %w", err)
			}
			rows := make([][]string, 0, len(names))
			for _, name := range names {
				if !withSignatures {
					rows = append(rows, []string{name})
					continue
				}
				proc, err := conn.DescribeProcedure(name)
				if err != nil {
					return fmt.Errorf("describe procedure %s: %w", name, err)
				}
				rows = append(rows, []string{name, signature(proc)})
			}
			header := []string{"PROCEDURE"}
			if withSignatures {
				header = append(header, "SIGNATURE")
			}
			return a.render(cmd.OutOrStdout(), header, rows)
		},
	}
	cmd.Flags().BoolVar(&withSignatures, "signatures", false, "describe each procedure")
	return cmd
}

func (a *app) describeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Describe a global or a procedure",
	}

	global := &cobra.Command{
		Use:   "global <name>",
		Short: "Show a global's type and fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			desc, err := conn.DescribeGlobal(args[0])
			if err != nil {
				return fmt.Errorf("describe global %s: %w", args[0], err)
			}
			if !desc.Type.IsTable() {
				return a.render(cmd.OutOrStdout(), []string{"GLOBAL", "TYPE"}, [][]string{{args[0], desc.String()}})
			}
			if a.cfg.Output == outputTable {
				fmt.Fprintln(cmd.OutOrStdout(), heading(args[0]+" (table)"))
			}
			rows := make([][]string, len(desc.Fields))
			for i, f := range desc.Fields {
				rows[i] = []string{f.Name, f.Type.String()}
			}
			return a.render(cmd.OutOrStdout(), []string{"FIELD", "TYPE"}, rows)
		},
	}

	proc := &cobra.Command{
		Use:   "proc <name>",
		Short: "Show a procedure's parameters and return type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			p, err := conn.DescribeProcedure(args[0])
			if err != nil {
				return fmt.Errorf("describe procedure %s: %w", args[0], err)
			}
			if a.cfg.Output == outputTable {
				fmt.Fprintln(cmd.OutOrStdout(), heading(signature(p)))
			}
			rows := make([][]string, 0, len(p.Params)+1)
			rows = append(rows, []string{"return", p.Return.String()})
			for i, d := range p.Params {
				rows = append(rows, []string{"arg " + strconv.Itoa(i), d.String()})
			}
			return a.render(cmd.OutOrStdout(), []string{"SLOT", "TYPE"}, rows)
		},
	}

	cmd.AddCommand(global, proc)
	return cmd
}

func (a *app) callCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <procedure> [type:value ...]",
		Short: "Call a procedure with typed arguments",
		Long: `call pushes each argument, runs the procedure and prints its result.
Arguments are written as type:value, for example int64:42, text:hello, date:2024/02/29
or int32[]:1,2,3. An empty value passes null.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vals, err := parseArgs(args[1:])
			if err != nil {
				return err
			}
			conn, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			result, err := conn.Call(args[0], vals...)
			if err != nil {
				return fmt.Errorf("call %s: %w", args[0], err)
			}
			if result.Type() == value.TypeUndefined {
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			}
			return a.renderValue(cmd.OutOrStdout(), result)
		},
	}
}

// credentialCmd manages keyring entries of keyring-backed profiles.
func (a *app) credentialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Store or remove a profile's keyring credential",
	}

	var fromEnv string
	set := &cobra.Command{
		Use:   "set",
		Short: "Store the credential for the selected profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ring, err := a.profileKeyring()
			if err != nil {
				return err
			}
			if fromEnv == "" {
				return fmt.Errorf("--from-env is required")
			}
			secret := strings.TrimSpace(os.Getenv(fromEnv))
			if secret == "" {
				return fmt.Errorf("%s is empty", fromEnv)
			}
			if err := ring.Store([]byte(secret)); err != nil {
				return fmt.Errorf("store credential: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "credential stored")
			return nil
		},
	}
	set.Flags().StringVar(&fromEnv, "from-env", "", "environment variable holding the secret")

	remove := &cobra.Command{
		Use:   "remove",
		Short: "Remove the credential for the selected profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ring, err := a.profileKeyring()
			if err != nil {
				return err
			}
			if err := ring.Remove(); err != nil {
				return fmt.Errorf("remove credential: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "credential removed")
			return nil
		},
	}

	cmd.AddCommand(set, remove)
	return cmd
}

func (a *app) profileKeyring() (*auth.Keyring, error) {
	p, err := a.profile()
	if err != nil {
		return nil, err
	}
	src, err := p.CredentialSource()
	if err != nil {
		return nil, err
	}
	ring, ok := src.(*auth.Keyring)
	if !ok {
		return nil, fmt.Errorf("profile credential source is %q, not keyring", p.Credential.Source)
	}
	return ring, nil
}
