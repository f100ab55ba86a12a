// File: cmd/wlprobe/commands.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/momentics/hioload-wl/display"
	"github.com/momentics/hioload-wl/eventq"
	"github.com/momentics/hioload-wl/internal/wire"
	"github.com/spf13/cobra"
)

// wl_registry events.
const (
	registryEventGlobal       = 0
	registryEventGlobalRemove = 1
)

func roundtripCmd(flags *globalFlags) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "roundtrip",
		Short: "Measure display roundtrip latency",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := flags.open()
			if err != nil {
				return err
			}
			defer s.close()
			ctx := cmd.Context()
			q := s.display.CreateQueue("roundtrip")
			defer s.display.DestroyQueue(q)
			for i := 0; i < count; i++ {
				start := time.Now()
				if _, err := s.display.RoundtripQueue(ctx, q); err != nil {
					return err
				}
				fmt.Printf("roundtrip %d: %s\n", i+1, time.Since(start))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of roundtrips")
	return cmd
}

type global struct {
	Name      uint32 `json:"name"`
	Interface string `json:"interface"`
	Version   uint32 `json:"version"`
}

func globalsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "globals",
		Short: "List the globals advertised by the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := flags.open()
			if err != nil {
				return err
			}
			defer s.close()

			globals := map[uint32]global{}
			_, err = s.display.GetRegistry(nil, func(_ *display.Object, ev *eventq.Event) error {
				r := wire.NewArgReader(ev.Args)
				name, err := r.Uint32()
				if err != nil {
					return err
				}
				switch ev.Opcode {
				case registryEventGlobal:
					iface, err := r.String()
					if err != nil {
						return err
					}
					ver, err := r.Uint32()
					if err != nil {
						return err
					}
					globals[name] = global{Name: name, Interface: iface, Version: ver}
				case registryEventGlobalRemove:
					delete(globals, name)
				}
				return nil
			})
			if err != nil {
				return err
			}
			if _, err := s.display.Roundtrip(); err != nil {
				return err
			}

			out := make([]global, 0, len(globals))
			for _, g := range globals {
				out = append(out, g)
			}
			sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
			for _, g := range out {
				fmt.Printf("%4d  %-40s v%d\n", g.Name, g.Interface, g.Version)
			}
			return nil
		},
	}
}

func stateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Roundtrip once and dump connection probes as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := flags.open()
			if err != nil {
				return err
			}
			defer s.close()
			if _, err := s.display.Roundtrip(); err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(s.probes.Dump())
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("wlprobe %s (%s) %s %s/%s\n", version, commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
