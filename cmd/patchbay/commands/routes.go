package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dyluth/patchbay/internal/config"
	"github.com/dyluth/patchbay/internal/instance"
	"github.com/dyluth/patchbay/internal/printer"
	"github.com/dyluth/patchbay/internal/routing"
	"github.com/dyluth/patchbay/pkg/coordination"
)

var routesAdmin string

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Manage hardware output routing",
	Long: `Inspect and change which variable drives each hardware output.

Changes are persisted to the configured routing store and announced to
running instances over the coordination bus.

Examples:
  patchbay routes list
  patchbay routes add es9out#1 doorway#1.threshold
  patchbay routes remove es9out#1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var routesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List current routes",
	Args:  cobra.NoArgs,
	RunE:  runRoutesList,
}

var routesAddCmd = &cobra.Command{
	Use:   "add <output> <variable>",
	Short: "Route a variable to a hardware output",
	Args:  cobra.ExactArgs(2),
	RunE:  runRoutesAdd,
}

var routesRemoveCmd = &cobra.Command{
	Use:   "remove <output>",
	Short: "Remove the route for a hardware output",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoutesRemove,
}

func init() {
	routesCmd.PersistentFlags().StringVar(&routesAdmin, "admin", "cli", "Admin name recorded in routing events")
	routesCmd.AddCommand(routesListCmd, routesAddCmd, routesRemoveCmd)
	rootCmd.AddCommand(routesCmd)
}

// routeSession is an open routing table plus the Redis client used for
// announcements (nil for the file store).
type routeSession struct {
	cfg   *config.Config
	table *routing.Table
	rdb   *redis.Client
}

func (s *routeSession) Close() {
	if s.rdb != nil {
		s.rdb.Close()
	}
}

func openRoutes(ctx context.Context) (*routeSession, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	cats, err := loadCatalogs(cfg)
	if err != nil {
		return nil, err
	}

	var rdb *redis.Client
	if needsRedisForRoutes(cfg) {
		if rdb, err = connectRedis(ctx, cfg); err != nil {
			return nil, err
		}
	}

	table := routing.NewTable(cats.outputs, cats.validator, routeStore(cfg, rdb))
	if err := table.Load(ctx); err != nil {
		if rdb != nil {
			rdb.Close()
		}
		return nil, printer.Error("failed to load routing table", err.Error(), nil)
	}
	return &routeSession{cfg: cfg, table: table, rdb: rdb}, nil
}

// announce publishes a persisted change so running instances update their
// replicas. Failures are reported but do not fail the command.
func (s *routeSession) announce(ctx context.Context, change coordination.RoutingChange) {
	if s.rdb == nil {
		return
	}
	identity, err := instance.Resolve("")
	if err != nil {
		printer.Warning("could not announce change: %v\n", err)
		return
	}
	bus, err := coordination.NewBus(s.rdb, s.cfg.Namespace, identity)
	if err != nil {
		printer.Warning("could not announce change: %v\n", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, coordination.DefaultPublishTimeout)
	defer cancel()
	if err := bus.Publish(ctx, change); err != nil {
		printer.Warning("route saved, but running instances were not notified: %v\n", err)
	}
}

func runRoutesList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := openRoutes(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	routes := s.table.ListRoutes()
	if len(routes) == 0 {
		printer.Info("No routes configured.\n")
		return nil
	}

	rows := make([][]string, 0, len(routes))
	for _, r := range routes {
		rows = append(rows, []string{r.Output, r.Variable})
	}
	printer.Table([]string{"OUTPUT", "VARIABLE"}, rows)
	return nil
}

func runRoutesAdd(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := openRoutes(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	route, err := s.table.AddRoute(ctx, args[0], args[1])
	if err != nil {
		return routeError(err, args[0], args[1])
	}

	s.announce(ctx, coordination.RoutingChange{
		Action:   coordination.RoutingAdd,
		Output:   route.Output,
		Variable: route.Variable,
		Admin:    routesAdmin,
	})
	printer.Success("Added route %s → %s\n", route.Output, route.Variable)
	return nil
}

func runRoutesRemove(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := openRoutes(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	removed, err := s.table.RemoveRoute(ctx, args[0])
	if err != nil {
		return routeError(err, args[0], "")
	}
	if !removed {
		printer.Warning("No route found for %s\n", args[0])
		return nil
	}

	s.announce(ctx, coordination.RoutingChange{
		Action: coordination.RoutingRemove,
		Output: args[0],
		Admin:  routesAdmin,
	})
	printer.Success("Removed route for %s\n", args[0])
	return nil
}

func routeError(err error, output, variable string) error {
	details := map[string]string{"Output": output}
	if variable != "" {
		details["Variable"] = variable
	}

	switch {
	case errors.Is(err, routing.ErrInvalidOutput):
		return printer.ErrorWithContext("invalid hardware output", err.Error(), details,
			[]string{"List valid outputs:\n  patchbay outputs --all"})
	case errors.Is(err, routing.ErrInvalidVariable):
		return printer.ErrorWithContext("invalid routing variable", err.Error(), details,
			[]string{fmt.Sprintf("Check the variable:\n  patchbay validate --variable %s", variable)})
	default:
		return printer.ErrorWithContext("routing table write failed", err.Error(), details,
			[]string{"The table was not changed. Check the routing store and retry."})
	}
}
