package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func addCommands(root *cobra.Command) {
	root.AddCommand(
		startCmd(),
		simpleCmd("pause", "Pause the running session", "pause_session"),
		simpleCmd("resume", "Resume a paused session", "resume_session"),
		simpleCmd("stop", "Stop the session and record the time", "stop_session"),
		simpleCmd("reset", "Discard the session without recording", "reset_session"),
		addCyclesCmd(),
		reduceWeeklyCmd(),

		playCmd(),
		simpleCmd("pause-ambience", "Pause ambience playback", "pause_ambience"),
		simpleCmd("toggle", "Toggle ambience play/pause", "toggle_ambience"),
		simpleCmd("stop-ambience", "Stop ambience playback", "stop_ambience"),
		simpleCmd("next", "Play the next ambience in the catalog", "next_ambience"),
		volumeCmd(),
		adjustCmd(),
		loopCmd(),
		soundCmd(),
		autoStopCmd(),

		&cobra.Command{
			Use:   "state",
			Short: "Print the daemon's current state",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return printState(cmd)
			},
		},
		historyCmd(),
	)
}

func simpleCmd(use, short, typ string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return sendIntent(cmd, typ, nil)
		},
	}
}

func startCmd() *cobra.Command {
	var (
		minutes  int
		exercise string
		duck     bool
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a free, timed or exercise session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("minutes") && exercise != "" {
				return errors.New("--minutes and --exercise are mutually exclusive")
			}
			data := map[string]any{}
			if cmd.Flags().Changed("minutes") {
				data["target_minutes"] = minutes
			}
			if exercise != "" {
				data["exercise"] = exercise
			}
			if duck {
				data["duck_ambience"] = true
			}
			return sendIntent(cmd, "start_session", data)
		},
	}
	cmd.Flags().IntVarP(&minutes, "minutes", "m", 0, "target length in minutes (omit for a free session)")
	cmd.Flags().StringVarP(&exercise, "exercise", "e", "", "breathing exercise key")
	cmd.Flags().BoolVar(&duck, "duck", false, "pause ambience while the session runs")
	return cmd
}

func addCyclesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-cycles <n>",
		Short: "Extend the running exercise",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid cycle count: %w", err)
			}
			return sendIntent(cmd, "add_cycles", map[string]int{"cycles": n})
		},
	}
}

func reduceWeeklyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reduce-weekly <minutes>",
		Short: "Subtract minutes from this week's total",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid minutes: %w", err)
			}
			return sendIntent(cmd, "reduce_weekly_minutes", map[string]int{"minutes": n})
		},
	}
}

func playCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "play <key>",
		Short: "Play an ambience from the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendIntent(cmd, "play_ambience", map[string]string{"key": args[0]})
		},
	}
}

func volumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "volume <0..1>",
		Short: "Set the ambience volume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid volume: %w", err)
			}
			return sendIntent(cmd, "set_volume", map[string]float64{"volume": v})
		},
	}
}

func adjustCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "adjust <delta>",
		Short: "Nudge the ambience volume up or down",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid delta: %w", err)
			}
			return sendIntent(cmd, "adjust_volume", map[string]float64{"delta": d})
		},
	}
}

func loopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "loop <on|off>",
		Short: "Enable or disable looping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			return sendIntent(cmd, "set_loop", map[string]bool{"loop": on})
		},
	}
}

func soundCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sound [on|off]",
		Short: "Enable or disable cue tones (toggles without an argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return sendIntent(cmd, "toggle_sound", nil)
			}
			on, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			return sendIntent(cmd, "set_sound_enabled", map[string]bool{"enabled": on})
		},
	}
}

func autoStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auto-stop <minutes|off>",
		Short: "Stop ambience after a delay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == "off" {
				return sendIntent(cmd, "set_auto_stop", map[string]any{"minutes": nil})
			}
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid minutes: %w", err)
			}
			return sendIntent(cmd, "set_auto_stop", map[string]int{"minutes": n})
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printHistory(cmd, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of sessions to show")
	return cmd
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
}
