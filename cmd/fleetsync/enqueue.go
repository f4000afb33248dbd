package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/fleetsync/internal/command"
	"github.com/zulandar/fleetsync/internal/db"
)

func newEnqueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a driver action for delivery",
		Long: "Queues a command in the local store. It is delivered by the running daemon on its\n" +
			"next sync, or immediately with 'fleetsync sync'.",
	}

	cmd.AddCommand(newEnqueueStartDutyCmd())
	cmd.AddCommand(newEnqueueEndDutyCmd())
	cmd.AddCommand(newEnqueueLocationCmd())
	cmd.AddCommand(newEnqueuePushTokenCmd())
	cmd.AddCommand(newEnqueueAcceptAssignmentCmd())
	cmd.AddCommand(newEnqueueRawCmd())
	return cmd
}

func newEnqueueStartDutyCmd() *cobra.Command {
	var (
		configPath string
		p          command.StartDuty
	)

	cmd := &cobra.Command{
		Use:   "start-duty",
		Short: "Start a duty on a vehicle",
		Long:  "Queues a duty start. The printed temp id can be passed to later commands before the server assigns the real duty id.",
		RunE: func(cmd *cobra.Command, args []string) error {
			p.StartedAt = time.Now().UTC()
			c, _ := command.NewStartDuty(p)
			return runEnqueue(cmd, configPath, c)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to fleetsync config file")
	cmd.Flags().StringVar(&p.VehicleID, "vehicle", "", "vehicle id (required)")
	cmd.Flags().Float64Var(&p.OdometerKm, "odometer", 0, "odometer reading in km")
	cmd.Flags().Float64Var(&p.Latitude, "lat", 0, "latitude at duty start")
	cmd.Flags().Float64Var(&p.Longitude, "lon", 0, "longitude at duty start")
	cmd.MarkFlagRequired("vehicle")
	return cmd
}

func newEnqueueEndDutyCmd() *cobra.Command {
	var (
		configPath string
		p          command.EndDuty
	)

	cmd := &cobra.Command{
		Use:   "end-duty",
		Short: "End a duty",
		RunE: func(cmd *cobra.Command, args []string) error {
			p.EndedAt = time.Now().UTC()
			return runEnqueue(cmd, configPath, command.New(p))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to fleetsync config file")
	cmd.Flags().StringVar(&p.DutyID, "duty", "", "duty id or temp id (required)")
	cmd.Flags().Float64Var(&p.OdometerKm, "odometer", 0, "odometer reading in km")
	cmd.Flags().StringVar(&p.Notes, "notes", "", "free-form notes")
	cmd.MarkFlagRequired("duty")
	return cmd
}

func newEnqueueLocationCmd() *cobra.Command {
	var (
		configPath string
		dutyID     string
		points     []string
	)

	cmd := &cobra.Command{
		Use:   "location",
		Short: "Upload GPS fixes",
		Long:  "Queues a location batch. Each --point is \"lat,lon\" and is stamped with the current time.",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UTC()
			batch := command.LocationBatch{DutyID: dutyID}
			for _, raw := range points {
				pt, err := parsePoint(raw)
				if err != nil {
					return err
				}
				pt.RecordedAt = now
				batch.Points = append(batch.Points, pt)
			}
			return runEnqueue(cmd, configPath, command.New(batch))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to fleetsync config file")
	cmd.Flags().StringVar(&dutyID, "duty", "", "duty id or temp id the fixes belong to")
	cmd.Flags().StringArrayVar(&points, "point", nil, "GPS fix as lat,lon (repeatable)")
	return cmd
}

func parsePoint(s string) (command.LocationPoint, error) {
	lat, lon, ok := strings.Cut(s, ",")
	if !ok {
		return command.LocationPoint{}, fmt.Errorf("invalid point %q: want lat,lon", s)
	}
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return command.LocationPoint{}, fmt.Errorf("invalid latitude in %q: %w", s, err)
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil {
		return command.LocationPoint{}, fmt.Errorf("invalid longitude in %q: %w", s, err)
	}
	return command.LocationPoint{Latitude: la, Longitude: lo}, nil
}

func newEnqueuePushTokenCmd() *cobra.Command {
	var (
		configPath string
		p          command.PushTokenUpdate
	)

	cmd := &cobra.Command{
		Use:   "push-token",
		Short: "Register the device push token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(cmd, configPath, command.New(p))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to fleetsync config file")
	cmd.Flags().StringVar(&p.Token, "token", "", "push token (required)")
	cmd.Flags().StringVar(&p.Platform, "platform", "", "push platform, e.g. fcm or apns")
	cmd.MarkFlagRequired("token")
	return cmd
}

func newEnqueueAcceptAssignmentCmd() *cobra.Command {
	var (
		configPath string
		p          command.AcceptAssignment
	)

	cmd := &cobra.Command{
		Use:   "accept-assignment",
		Short: "Accept a dispatch assignment",
		RunE: func(cmd *cobra.Command, args []string) error {
			p.AcceptedAt = time.Now().UTC()
			return runEnqueue(cmd, configPath, command.New(p))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to fleetsync config file")
	cmd.Flags().StringVar(&p.AssignmentID, "assignment", "", "assignment id (required)")
	cmd.Flags().StringVar(&p.DutyID, "duty", "", "duty id or temp id the assignment is accepted on")
	cmd.MarkFlagRequired("assignment")
	return cmd
}

func newEnqueueRawCmd() *cobra.Command {
	var (
		configPath string
		req        command.Request
		payload    string
	)

	cmd := &cobra.Command{
		Use:   "raw",
		Short: "Queue a command from a JSON payload",
		Long: "Queues a command of any kind. The payload is the kind's JSON body, e.g.\n" +
			"  fleetsync enqueue raw --kind push_token_update --payload '{\"token\":\"abc\"}'",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Payload = json.RawMessage(payload)
			c, err := req.Build()
			if err != nil {
				return err
			}
			return runEnqueue(cmd, configPath, c)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to fleetsync config file")
	cmd.Flags().Var((*kindValue)(&req.Kind), "kind", "command kind: "+kindList())
	cmd.Flags().StringVar(&payload, "payload", "", "JSON payload (required)")
	cmd.Flags().StringVar(&req.IdempotencyKey, "key", "", "idempotency key; minted when empty")
	cmd.MarkFlagRequired("kind")
	cmd.MarkFlagRequired("payload")
	return cmd
}

func runEnqueue(cmd *cobra.Command, configPath string, c command.Command) error {
	out := cmd.OutOrStdout()

	if err := c.Validate(); err != nil {
		return err
	}

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)

	id, err := newQueue(cfg, gormDB).Enqueue(cmd.Context(), c)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Queued %s #%d (%s priority)\n", c.Kind(), id, c.Kind().Priority())
	fmt.Fprintf(out, "  Idempotency key: %s\n", c.IdempotencyKey)
	if c.TempEntityID != "" {
		fmt.Fprintf(out, "  Temp id:         %s\n", c.TempEntityID)
	}
	return nil
}

// kindValue adapts command.Kind to pflag.Value.
type kindValue command.Kind

func (k *kindValue) String() string { return string(*k) }

func (k *kindValue) Set(s string) error {
	kind, err := command.ParseKind(s)
	if err != nil {
		return err
	}
	*k = kindValue(kind)
	return nil
}

func (k *kindValue) Type() string { return "kind" }

func kindList() string {
	names := make([]string, len(command.Kinds))
	for i, k := range command.Kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}
