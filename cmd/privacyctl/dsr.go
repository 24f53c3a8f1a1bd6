package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	dsrhandler "privacyhub/internal/dsr/handler"
)

func dsrCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dsr",
		Short: "Inspect and transition data subject requests",
	}
	cmd.AddCommand(
		dsrListCommand(),
		dsrGetCommand(),
		dsrStartCommand(),
		dsrCompleteCommand(),
		dsrRejectCommand(),
		dsrRecomputeCommand(),
		dsrUnthrottleCommand(),
	)
	return cmd
}

func dsrListCommand() *cobra.Command {
	var (
		status  string
		overdue bool
		limit   int
		offset  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests ordered by due date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if status != "" {
				q.Set("status", status)
			}
			if overdue {
				q.Set("overdue", "true")
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				q.Set("offset", strconv.Itoa(offset))
			}
			var page dsrhandler.ListResponse
			if err := newClientFromFlags().do(cmd.Context(), http.MethodGet, "/admin/dsr", q, nil, &page); err != nil {
				return err
			}
			if globalFlags.output == "json" {
				return writeJSON(cmd.OutOrStdout(), page)
			}
			return writeRequestTable(cmd.OutOrStdout(), page)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only requests in this status")
	cmd.Flags().BoolVar(&overdue, "overdue", false, "only open requests past their due date")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

func dsrGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a request with its event trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var detail dsrhandler.DetailResponse
			if err := newClientFromFlags().do(cmd.Context(), http.MethodGet, "/admin/dsr/"+id, nil, nil, &detail); err != nil {
				return err
			}
			if globalFlags.output == "json" {
				return writeJSON(cmd.OutOrStdout(), detail)
			}
			return writeDetail(cmd.OutOrStdout(), detail)
		},
	}
}

func dsrStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start <id>",
		Short: "Begin processing a verified request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return transition(cmd, args[0], "start", nil)
		},
	}
}

func dsrCompleteCommand() *cobra.Command {
	var body dsrhandler.CompleteRequest
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Close a request in progress",
		Long:  "Access and portability requests need --export-ref. Erasure requests need --anonymized.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return transition(cmd, args[0], "complete", body)
		},
	}
	cmd.Flags().StringVar(&body.ExportRef, "export-ref", "", "where the export was delivered")
	cmd.Flags().BoolVar(&body.AnonymizationConfirmed, "anonymized", false, "confirm the subject's data was erased or anonymized")
	cmd.Flags().StringVar(&body.Notes, "notes", "", "resolution notes")
	return cmd
}

func dsrRejectCommand() *cobra.Command {
	var body dsrhandler.RejectRequest
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject an open request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return transition(cmd, args[0], "reject", body)
		},
	}
	cmd.Flags().StringVar(&body.Reason, "reason", "", "reason sent to the requester")
	_ = cmd.MarkFlagRequired("reason") //nolint:errcheck // flag is defined above
	return cmd
}

func dsrRecomputeCommand() *cobra.Command {
	var body dsrhandler.RecomputeRequest
	cmd := &cobra.Command{
		Use:   "recompute <id>",
		Short: "Recompute the due date, optionally under another regulation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return transition(cmd, args[0], "recompute", body)
		},
	}
	cmd.Flags().StringVar(&body.Regulation, "regulation", "", "regulation to apply (default: keep current)")
	return cmd
}

func dsrUnthrottleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unthrottle <email>",
		Short: "Lift the submission throttle for one email address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := dsrhandler.ThrottleResetRequest{Email: args[0]}
			if err := newClientFromFlags().do(cmd.Context(), http.MethodPost, "/admin/dsr/throttle/reset", nil, body, nil); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "throttle cleared for %s\n", args[0])
			return err
		},
	}
}

func transition(cmd *cobra.Command, rawID, action string, body any) error {
	id, err := parseID(rawID)
	if err != nil {
		return err
	}
	if body == nil {
		body = struct{}{}
	}
	var req dsrhandler.RequestResponse
	if err := newClientFromFlags().do(cmd.Context(), http.MethodPost, "/admin/dsr/"+id+"/"+action, nil, body, &req); err != nil {
		return err
	}
	if globalFlags.output == "json" {
		return writeJSON(cmd.OutOrStdout(), req)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s, due %s\n", req.ID, req.Status, req.DueDate.Format(time.DateOnly))
	return err
}

func parseID(raw string) (string, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid request id %q", raw)
	}
	return id.String(), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeRequestTable(w io.Writer, page dsrhandler.ListResponse) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tREGULATION\tSTATUS\tDUE\tOVERDUE")
	for _, r := range page.Requests {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\n",
			r.ID, r.RequestType, r.Regulation, r.Status, r.DueDate.Format(time.DateOnly), r.Overdue)
	}
	fmt.Fprintf(tw, "\n%d of %d (offset %d)\n", len(page.Requests), page.Total, page.Offset)
	return tw.Flush()
}

func writeDetail(w io.Writer, d dsrhandler.DetailResponse) error {
	r := d.Request
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "id\t%s\n", r.ID)
	fmt.Fprintf(tw, "requester\t%s <%s>\n", r.Name, r.Email)
	fmt.Fprintf(tw, "type\t%s\n", r.RequestType)
	fmt.Fprintf(tw, "regulation\t%s\n", r.Regulation)
	fmt.Fprintf(tw, "status\t%s\n", r.Status)
	fmt.Fprintf(tw, "submitted\t%s\n", r.SubmittedAt.Format(time.RFC3339))
	fmt.Fprintf(tw, "due\t%s\n", r.DueDate.Format(time.RFC3339))
	fmt.Fprintln(tw, "\nAT\tFROM\tTO\tACTOR\tREASON")
	for _, ev := range d.Events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", ev.CreatedAt.Format(time.RFC3339), ev.From, ev.To, ev.Actor, ev.Reason)
	}
	return tw.Flush()
}
