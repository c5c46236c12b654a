// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/indoor_pdr/internal/config"
	"github.com/relabs-tech/indoor_pdr/internal/pdr"
	"github.com/relabs-tech/indoor_pdr/internal/render"
	"github.com/relabs-tech/indoor_pdr/internal/sensorstream"
	"github.com/relabs-tech/indoor_pdr/internal/step"
	"github.com/relabs-tech/indoor_pdr/internal/tracklog"
)

// sessionOptions builds session options from configuration.
func sessionOptions(cfg *config.Config) pdr.Options {
	return pdr.Options{
		CalibrationSteps: cfg.CalibrationSteps,
		Step: step.Options{
			Threshold: cfg.StepAccelThreshold,
			Debounce:  time.Duration(cfg.StepDebounceMS) * time.Millisecond,
		},
	}
}

// newRenderer loads the configured floor plan, or a blank canvas when no
// plan is configured.
func newRenderer(cfg *config.Config) (*render.Renderer, error) {
	var plan image.Image
	if cfg.FloorPlanPath != "" {
		var err error
		plan, err = render.LoadFloorPlan(cfg.FloorPlanPath)
		if err != nil {
			return nil, err
		}
		log.Printf("pdr: floor plan %s (%dx%d) scaled to %dx%d",
			cfg.FloorPlanPath, plan.Bounds().Dx(), plan.Bounds().Dy(), cfg.FloorPlanWidth, cfg.FloorPlanHeight)
	}
	return render.NewRenderer(plan, cfg.FloorPlanWidth, cfg.FloorPlanHeight)
}

// publishSnapshots publishes every snapshot from ch as retained JSON until ch
// closes or ctx is done.
func publishSnapshots(ctx context.Context, client mqtt.Client, topic string, ch <-chan pdr.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				log.Printf("pdr: snapshot marshal error: %v", err)
				continue
			}
			token := client.Publish(topic, 0, true, payload)
			token.Wait()
			if token.Error() != nil {
				log.Printf("pdr: MQTT publish error (%s): %v", topic, token.Error())
			}
		}
	}
}

// RunPDR runs a PDR session fed by MQTT sensor topics and serves it over
// HTTP and WebSocket until interrupted.
func RunPDR() error {
	cfg := config.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Handlers may unsubscribe from inside a delivery, so they must not be
	// serialized behind each other. The session drops readings that arrive
	// behind a newer one on the same channel.
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDPDR, func(o *mqtt.ClientOptions) {
		o.SetOrderMatters(false)
	})
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	sensors := sensorstream.NewMQTTSensors(client, sensorTopics(cfg))
	if len(sensors.Available()) == 0 {
		log.Println("pdr: WARNING no sensor topics configured, only simulated steps will count")
	} else {
		log.Printf("pdr: sensor channels %v", sensors.Available())
	}

	renderer, err := newRenderer(cfg)
	if err != nil {
		return err
	}

	session := pdr.NewSession(sensors, sessionOptions(cfg))
	defer session.Close()
	log.Printf("pdr: session %s ready (%d calibration steps)", session.ID(), session.Snapshot().TargetSteps)

	var store *tracklog.Store
	if cfg.TrackLogPath != "" {
		store, err = tracklog.Open(cfg.TrackLogPath)
		if err != nil {
			return err
		}
		defer store.Close()
		_, ch := session.Subscribe()
		go tracklog.NewRecorder(store).Follow(ctx, ch)
	}

	if cfg.TopicPDRState != "" {
		_, ch := session.Subscribe()
		go publishSnapshots(ctx, client, cfg.TopicPDRState, ch)
		log.Printf("pdr: publishing snapshots to %s", cfg.TopicPDRState)
	}

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler: (&pdrServer{
			session:   session,
			renderer:  renderer,
			store:     store,
			staticDir: cfg.WebStaticDir,
		}).routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("pdr: web server listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Println("pdr: shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("pdr: web server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
