package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/autoreply/internal/reply"
)

type simulateOptions struct {
	account string
	sender  string
	chat    string
	item    string
	asJSON  bool
}

// simulateResult is the printed form of one pipeline outcome.
type simulateResult struct {
	Message      string  `json:"message"`
	Conversation string  `json:"conversation"`
	Delivered    bool    `json:"delivered"`
	Reply        string  `json:"reply,omitempty"`
	Reason       string  `json:"reason"`
	Source       string  `json:"source,omitempty"`
	Intent       string  `json:"intent,omitempty"`
	Confidence   float64 `json:"confidence"`
	Previous     string  `json:"previous,omitempty"`
	Error        string  `json:"error,omitempty"`
}

func simulateCmd() *cobra.Command {
	var opts simulateOptions
	cmd := &cobra.Command{
		Use:   "simulate [message...]",
		Short: "Run messages through the reply pipeline and print each outcome",
		Long: "Runs each argument (or each stdin line when no arguments are given) through the full pipeline " +
			"against the configured store and backend. Turns are persisted exactly as in serve.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			messages := args
			if len(messages) == 0 {
				messages, err = readLines(cmd.InOrStdin())
				if err != nil {
					return err
				}
			}
			for _, text := range messages {
				out := a.coordinator.Reply(cmd.Context(), reply.Inbound{
					AccountID:     opts.account,
					Channel:       "simulate",
					ChatID:        opts.chat,
					CounterpartID: opts.sender,
					ItemID:        opts.item,
					Text:          text,
				})
				if err := printOutcome(cmd.OutOrStdout(), text, out, opts.asJSON); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.account, "account", "default", "seller account id")
	cmd.Flags().StringVar(&opts.sender, "sender", "buyer", "buyer (counterpart) id")
	cmd.Flags().StringVar(&opts.chat, "chat", "simulate", "chat id")
	cmd.Flags().StringVar(&opts.item, "item", "", "item id the chat is about")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print one JSON object per message")
	return cmd
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	return lines, nil
}

func toResult(text string, out reply.Outcome) simulateResult {
	r := simulateResult{
		Message:      text,
		Conversation: out.ConversationID,
		Delivered:    out.Delivered,
		Reply:        out.Reply,
		Reason:       string(out.Reason),
		Source:       string(out.Source),
		Intent:       out.Intent,
		Confidence:   out.Confidence,
		Previous:     out.Previous,
	}
	if out.Err != nil {
		r.Error = out.Err.Error()
	}
	return r
}

func printOutcome(w io.Writer, text string, out reply.Outcome, asJSON bool) error {
	r := toResult(text, out)
	if asJSON {
		return json.NewEncoder(w).Encode(r)
	}
	fmt.Fprintf(w, "message:    %s\n", r.Message)
	fmt.Fprintf(w, "intent:     %s (%.1f)\n", orDash(r.Intent), r.Confidence)
	fmt.Fprintf(w, "reason:     %s\n", r.Reason)
	if r.Delivered {
		fmt.Fprintf(w, "reply:      %s [%s]\n", r.Reply, r.Source)
	}
	if r.Previous != "" {
		fmt.Fprintf(w, "previous:   %s\n", r.Previous)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "error:      %s\n", r.Error)
	}
	fmt.Fprintln(w)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
