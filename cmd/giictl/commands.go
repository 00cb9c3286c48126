package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360/gii/connection"
	"github.com/c360/gii/registry"
	"github.com/c360/gii/server"
	"github.com/c360/gii/variable"
)

func newPingCmd(o *globalOptions) *cobra.Command {
	var count uint32
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Run a ping exchange and disconnect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stream, err := dial(cmd.Context(), o)
			if err != nil {
				return err
			}
			cfg := connection.DefaultConfig(connection.RoleClient)
			cfg.ReadWait = 50 * time.Millisecond
			if count > 0 {
				cfg.PingCount = count
			}
			conn, err := connection.New(stream, connection.RoleClient, cfg)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
			defer cancel()
			start := time.Now()
			if err := server.RunClient(ctx, conn); err != nil {
				return err
			}
			if conn.State() != connection.StateDisconnect {
				return fmt.Errorf("ping did not complete, connection in %s", conn.State())
			}
			printf(cmd, "%s: %d packets in %v\n", o.addr, conn.Sequence(), time.Since(start).Round(time.Microsecond))
			return nil
		},
	}
	cmd.Flags().Uint32VarP(&count, "count", "n", 0, "ping counter the exchange starts from, 0 for the default")
	return cmd
}

func newListCmd(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List exported variables and result data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), o)
			if err != nil {
				return err
			}
			if err := sleep(cmd.Context(), o.settle); err != nil {
				_ = s.close()
				return err
			}

			var lines []string
			derr := s.do(func() {
				vars := s.vars.Owners()
				sort.Slice(vars, func(i, j int) bool { return vars[i].ID() < vars[j].ID() })
				for _, v := range vars {
					lines = append(lines, fmt.Sprintf("%-10s %-32s %16s %-8s %s\n",
						v.ID(), v.Name(), v.CurString(), v.Unit(false), v.Flags()))
				}
				results := s.results.Owners()
				sort.Slice(results, func(i, j int) bool { return results[i].ID() < results[j].ID() })
				for _, r := range results {
					lines = append(lines, fmt.Sprintf("%-10s %-32s %10d blocks %s\n",
						r.ID(), r.Name(), r.BlockCount(), r.Flags()))
				}
			})
			cerr := s.close()
			if derr != nil {
				return derr
			}
			for _, l := range lines {
				printf(cmd, "%s", l)
			}
			return cerr
		},
	}
}

func newGetCmd(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print the current value of a variable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			s, err := openSession(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer s.close()

			v, err := s.variable(cmd.Context(), id, o.timeout)
			if err != nil {
				return err
			}
			var out string
			if err := s.do(func() {
				out = fmt.Sprintf("%s %s\n", v.CurString(), v.Unit(false))
				v.Close()
			}); err != nil {
				return err
			}
			printf(cmd, "%s", out)
			return nil
		},
	}
}

func newSetCmd(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <id> <value>",
		Short: "Write a variable on the server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			s, err := openSession(cmd.Context(), o)
			if err != nil {
				return err
			}
			v, err := s.variable(cmd.Context(), id, o.timeout)
			if err != nil {
				_ = s.close()
				return err
			}

			var (
				readOnly bool
				out      string
			)
			if err := s.do(func() {
				if v.IsReadOnly() {
					readOnly = true
					return
				}
				v.SetCur(variable.Undefined(args[1]), false)
				out = fmt.Sprintf("%s %s\n", v.CurString(), v.Unit(false))
			}); err != nil {
				_ = s.close()
				return err
			}
			if readOnly {
				_ = s.close()
				return fmt.Errorf("variable %s is read only", id)
			}

			// give the collector time to send the write before disconnecting
			serr := sleep(cmd.Context(), o.settle)
			if err := s.close(); err != nil {
				return err
			}
			if serr != nil {
				return serr
			}
			printf(cmd, "%s", out)
			return nil
		},
	}
}

func newWatchCmd(o *globalOptions) *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "watch <id>...",
		Short: "Print value changes of variables until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]registry.ID, 0, len(args))
			for _, a := range args {
				id, err := parseID(a)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}

			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			s, err := openSession(ctx, o)
			if err != nil {
				return err
			}

			lines := make(chan string, 64)
			for _, id := range ids {
				v, err := s.variable(ctx, id, o.timeout)
				if err != nil {
					_ = s.close()
					return err
				}
				if err := s.do(func() {
					v.SetHandler(func(n variable.Notification) {
						if n.Event == variable.EventValueChange {
							report(lines, v)
						}
					})
					report(lines, v)
				}); err != nil {
					_ = s.close()
					return err
				}
			}

			for {
				select {
				case l := <-lines:
					printf(cmd, "%s", l)
				case err := <-s.done:
					s.done <- err
					return s.close()
				case <-ctx.Done():
					return s.close()
				}
			}
		},
	}
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "stop after this long, 0 to run until interrupted")
	return cmd
}

// report queues a line for v, dropping it when the printer lags behind
func report(lines chan<- string, v *variable.Variable) {
	select {
	case lines <- fmt.Sprintf("%s %s %s %s\n", time.Now().Format(time.TimeOnly), v.ID(), v.CurString(), v.Unit(false)):
	default:
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
