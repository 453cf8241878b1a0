package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odontosorriso/scheduling-agent/internal/decision"
	"github.com/odontosorriso/scheduling-agent/internal/fsm"
	"github.com/odontosorriso/scheduling-agent/internal/nlu"
)

type decideResult struct {
	Action        decision.Action   `json:"action"`
	State         string            `json:"state"`
	CollectedData map[string]string `json:"collected_data"`
	Warnings      map[string]string `json:"warnings,omitempty"`
}

// newDecideCmd dry-runs the decision engine offline. No store, model or tool
// is touched.
func newDecideCmd() *cobra.Command {
	var (
		state      string
		data       map[string]string
		raw        nlu.RawOutput
		date       string
		clock      string
		procedure  string
		code       string
		confidence float64
	)
	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Show the action the engine picks for a state and extraction",
		Example: `  schedctl decide --state initiated --intent schedule --date 2026-10-20
  schedctl decide --state time_collected --data date=2026-10-20 --data time=14:00 --intent confirm`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			current, err := fsm.ParseState(state)
			if err != nil {
				return err
			}
			machine, err := fsm.Restore("schedctl", current, data, nil)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("date") {
				raw.Date = &date
			}
			if cmd.Flags().Changed("time") {
				raw.Time = &clock
			}
			if cmd.Flags().Changed("procedure") {
				raw.Procedure = &procedure
			}
			raw.Confidence = &confidence

			out, err := nlu.Parse(raw)
			res := decideResult{}
			var verr *nlu.ValidationError
			if errors.As(err, &verr) {
				res.Warnings = verr.Fields
			} else if err != nil {
				return err
			}
			if code != "" {
				c, ok := nlu.FindConfirmationCode(code)
				if !ok {
					return fmt.Errorf("invalid confirmation code %q", code)
				}
				out.ConfirmationCode = &c
			}

			engine := decision.NewEngine(cmdLogger(cmd))
			res.Action = engine.Decide(machine, out)
			res.State = machine.CurrentState.String()
			res.CollectedData = machine.CollectedData
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	f := cmd.Flags()
	f.StringVar(&state, "state", string(fsm.StateInitiated), "current conversation state")
	f.StringToStringVar(&data, "data", nil, "collected data already in the conversation (key=value)")
	f.StringVar(&raw.Intent, "intent", string(nlu.IntentUnknown), "extracted intent")
	f.StringVar(&date, "date", "", "extracted date (YYYY-MM-DD)")
	f.StringVar(&clock, "time", "", "extracted time (HH:MM)")
	f.StringVar(&procedure, "procedure", "", "extracted procedure")
	f.StringVar(&code, "code", "", "confirmation code present in the message")
	f.Float64Var(&confidence, "confidence", 0.9, "extraction confidence")
	return cmd
}
