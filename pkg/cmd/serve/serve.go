package serve

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	pkgapm "github.com/outspan/outspan/pkg/apm"
	pkgbgtask "github.com/outspan/outspan/pkg/bgtask"
	"github.com/outspan/outspan/pkg/config"
	pkgsource "github.com/outspan/outspan/pkg/source"
)

// probe runs one unit of work: a transaction wrapping a single traced
// outbound request against the target.
func probe(ctx context.Context, agent *pkgapm.Agent, client *http.Client, target string) {
	txCtx, tx := agent.StartTransaction(ctx, "probe "+target, config.TypeRequest)

	result := "error"
	req, err := http.NewRequestWithContext(txCtx, http.MethodGet, target, nil)
	if err == nil {
		resp, err := client.Do(req)
		if err == nil {
			result = resp.Status
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		} else {
			logrus.WithError(err).Debug("OutSpan probe failed")
		}
	}

	agent.EndTransaction(tx, result)
}

func New(vp *viper.Viper) *cobra.Command {
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Probe a target URL periodically and report the captured spans",
		RunE: func(cmd *cobra.Command, args []string) error {
			// init main context of `serve`
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
			defer cancel()

			cfg := config.New(vp)

			// init reporter
			//reporter, shutdown, err := pkgapm.NewOTLPReporter(context.Background())
			reporter, shutdown, err := pkgapm.NewStdoutReporter()
			if err != nil {
				return err
			}

			// init agent
			agent := pkgapm.NewAgent(cfg, reporter)
			defer func() {
				agent.Olap().Flush()
				agent.Olap().Summary()
				if err := shutdown(agent.ShutdownCtx); err != nil {
					logrus.Error(err)
				}
			}()

			// init bgTaskManager
			bgTaskManager := pkgbgtask.NewBgTaskManager(agent.Table(), agent.Olap(), cfg.StaleSpanTTL)
			bgTaskManager.StartAll()

			target := vp.GetString("probe-url")
			if target == "" {
				target = "http://127.0.0.1:8080/"
			}
			logrus.Infof("OutSpan probing %s", target)

			client := pkgsource.NewClient(agent.Correlator())
			ticker := time.NewTicker(config.ProbeInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					probe(ctx, agent, client, target)
				}
			}
		},
	}
	return serve
}
