package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/turtacn/loan-portal/internal/domain/deal"
	"github.com/turtacn/loan-portal/pkg/client"
	"github.com/turtacn/loan-portal/pkg/errors"
)

// NewClientCmd returns "loanctl client": per-client commands served by the
// API server.
func NewClientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Inspect a client's dashboard through the API server",
	}
	cmd.AddCommand(
		newDashboardCmd(),
		newDealsCmd(),
		newNotificationsCmd(),
		newReadCmd(),
		newSyncCmd(),
	)
	return cmd
}

// NewDealCmd returns "loanctl deal".
func NewDealCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deal",
		Short: "Inspect a single deal through the API server",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "review DEAL_ID",
		Short: "Show the review countdown of a deal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return errors.InvalidParam("deal id must be a positive integer").WithDetail(args[0])
			}
			return runRemote(cmd, func(c *client.Client, cmd *cobra.Command) (interface{}, error) {
				r, err := c.Review(cmd.Context(), id)
				if err != nil {
					return nil, err
				}
				return reviewOutput{r}, nil
			})
		},
	})
	return cmd
}

// runRemote calls fn with the API client under the command timeout and prints
// its result.
func runRemote(cmd *cobra.Command, fn func(c *client.Client, cmd *cobra.Command) (interface{}, error)) error {
	cc, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd, cc)
	defer cancel()
	cmd.SetContext(ctx)

	out, err := fn(cc.Client, cmd)
	if err != nil {
		return err
	}
	return PrintResult(cmd, out)
}

func newDashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard PHONE",
		Short: "Show a client's loans and notifications",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemote(cmd, func(c *client.Client, cmd *cobra.Command) (interface{}, error) {
				d, err := c.Dashboard(cmd.Context(), args[0])
				if err != nil {
					return nil, err
				}
				return dashboardOutput{d}, nil
			})
		},
	}
}

func newDealsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deals PHONE",
		Short: "List a client's deals with their lifecycle state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemote(cmd, func(c *client.Client, cmd *cobra.Command) (interface{}, error) {
				ds, err := c.Deals(cmd.Context(), args[0])
				if err != nil {
					return nil, err
				}
				return dealTable(ds), nil
			})
		},
	}
}

func newNotificationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notifications PHONE",
		Short: "Show a client's notification feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemote(cmd, func(c *client.Client, cmd *cobra.Command) (interface{}, error) {
				feed, err := c.Notifications(cmd.Context(), args[0])
				if err != nil {
					return nil, err
				}
				return notificationTable(feed.Notifications), nil
			})
		},
	}
}

func newReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read PHONE NOTIFICATION_ID...",
		Short: "Mark notifications as read",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range args[1:] {
				if _, _, ok := deal.ParseNotificationID(id); !ok {
					return errors.New(errors.ErrCodeNotificationIDBad, "invalid notification id").WithDetail(id)
				}
			}
			return runRemote(cmd, func(c *client.Client, cmd *cobra.Command) (interface{}, error) {
				n, err := c.MarkRead(cmd.Context(), args[0], args[1:]...)
				if err != nil {
					return nil, err
				}
				return fmt.Sprintf("%d notification(s) marked as read", n), nil
			})
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync PHONE",
		Short: "Refresh a client from the CRM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemote(cmd, func(c *client.Client, cmd *cobra.Command) (interface{}, error) {
				d, err := c.Sync(cmd.Context(), args[0])
				if err != nil {
					return nil, err
				}
				return dashboardOutput{d}, nil
			})
		},
	}
}
