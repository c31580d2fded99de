package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"translate-hub/pkg/audio"
	"translate-hub/pkg/callhistory"
	"translate-hub/pkg/channel"
	"translate-hub/pkg/circuitbreaker"
	"translate-hub/pkg/config"
	httpserver "translate-hub/pkg/http"
	"translate-hub/pkg/hub"
	"translate-hub/pkg/messages"
	"translate-hub/pkg/messaging"
	"translate-hub/pkg/metrics"
	"translate-hub/pkg/mt"
	"translate-hub/pkg/ratelimit"
	"translate-hub/pkg/sessionlog"
	"translate-hub/pkg/sip"
	"translate-hub/pkg/stt"
	"translate-hub/pkg/tts"
	"translate-hub/pkg/version"
	"translate-hub/pkg/worker"
)

func runHub(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("max-calls") {
		cfg.Hub.MaxCalls = opts.maxCalls
	}

	logger.WithFields(logrus.Fields{
		"version":   version.Version,
		"max_calls": cfg.Hub.MaxCalls,
		"asr":       []string{cfg.ASR.Primary, cfg.ASR.Secondary},
		"mt":        cfg.MT.Type,
		"tts":       cfg.TTS.Type,
		"src_tts":   cfg.SourceTTS.Type,
	}).Info("Starting translate-hub")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartMetrics(logger, cfg.HTTP.EnableMetrics)

	shutdown := worker.NewGracefulShutdown(logger, 15*time.Second)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := shutdown.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Graceful shutdown incomplete")
		}
	}()

	backend, closeBackend, err := openHistoryBackend(cfg)
	if err != nil {
		return fmt.Errorf("open call history: %w", err)
	}
	shutdown.Register(worker.ShutdownResource{
		Name:     "call_history",
		Priority: 40,
		Shutdown: func(context.Context) error { closeBackend(); return nil },
	})
	store := callhistory.Open(ctx, backend, logger)

	sig := worker.NewSignal(ctx)
	supervisor := worker.NewSupervisor(logger, sig)

	recorder := sessionlog.NewRecorder(logger, sessionlog.NewLogSink(logger))
	monitor := httpserver.NewMonitor(logger)
	recorder.AddSink(monitor)

	var amqpClient *messaging.AMQPClient
	if cfg.Messaging.AMQPUrl != "" {
		amqpClient = messaging.NewAMQPClient(logger, messaging.ConfigFrom(cfg.Messaging))
		if err := amqpClient.Connect(); err != nil {
			logger.WithError(err).Warn("AMQP unavailable, session events will not be published")
		}
		events := messaging.NewEventPublisher(logger, amqpClient, amqpClient.Queue(), 0)
		recorder.AddSink(events)
		shutdown.Register(worker.ShutdownResource{Name: "session_events", Priority: 20, Shutdown: events.Close})
		shutdown.Register(worker.ShutdownResource{
			Name:     "amqp",
			Priority: 30,
			Shutdown: func(context.Context) error { amqpClient.Disconnect(); return nil },
		})
	}

	breakers := circuitbreaker.NewManager(logger)
	links, sipServer, err := buildPipeline(ctx, cfg, supervisor, breakers)
	if err != nil {
		return err
	}
	shutdown.RegisterCloser("sip", sipServer, 10)

	h, err := hub.New(logger, cfg, links, store, sig, hub.WithSessionLogger(recorder))
	if err != nil {
		return err
	}

	if cfg.HTTP.Enabled {
		server := httpserver.NewServer(logger, cfg.HTTP, monitor)
		server.AddHealthCheck("pipeline", func() error {
			if sig.IsSet() {
				return fmt.Errorf("pipeline shutting down: %v", sig.Cause())
			}
			return nil
		})
		server.AddHealthCheck("backends", breakers.HealthCheck)
		if amqpClient != nil {
			server.AddHealthCheck("amqp", func() error {
				if !amqpClient.IsConnected() {
					return fmt.Errorf("not connected to %s", amqpClient.Queue())
				}
				return nil
			})
		}
		go monitor.Run(sig.Context())
		go func() {
			if err := server.ListenAndServe(sig.Context()); err != nil {
				logger.WithError(err).Error("HTTP server failed")
			}
		}()
	}

	go func() {
		if err := sipServer.ListenAndServe(sig.Context()); err != nil && sig.Context().Err() == nil {
			logger.WithError(err).Error("SIP server failed")
			sig.Trigger(err)
		}
	}()

	supervisor.Start(sig.Context())
	if err := h.Run(sig.Context()); err != nil {
		sig.Trigger(err)
	}
	faultErr := supervisor.Wait()

	logger.WithField("calls_served", h.CallsServed()).Info("translate-hub stopped")
	if faultErr != nil {
		return faultErr
	}
	return sig.Cause()
}

// buildPipeline creates every stage, registers it with the supervisor and
// returns the hub side of the stage channels
func buildPipeline(ctx context.Context, cfg *config.Config, supervisor *worker.Supervisor, breakers *circuitbreaker.Manager) (hub.Links, *sip.Server, error) {
	var links hub.Links

	// telephony
	telCommands, phoneCommands := channel.Pipe[messages.Envelope]()
	hubPlay, phonePlay := channel.Pipe[messages.Utterance]()
	phoneFrames, vadFrames := channel.Pipe[messages.AudioFrame]()
	links.Telephony, links.Play = telCommands, hubPlay

	limiter := ratelimit.NewSIPLimiter(cfg.SIP.InviteRPS, cfg.SIP.InviteBurst, cfg.SIP.TrustedNetworks, logger)
	phone := sip.NewPhone(logger, cfg.SIP, limiter, phoneCommands, phoneFrames, phonePlay)
	sipServer, err := sip.NewServer(logger, cfg.SIP, phone)
	if err != nil {
		return links, nil, fmt.Errorf("create SIP server: %w", err)
	}
	supervisor.Add(phone, phoneCommands)

	// recognizers
	var vadOutputs []*channel.Endpoint[messages.AudioFrame]
	recognizers := []struct {
		name     string
		backend  string
		commands *worker.CommandEndpoint
		hyps     **channel.Endpoint[messages.Hypothesis]
	}{
		{messages.StageASR, cfg.ASR.Primary, &links.ASR, &links.ASRHyps},
		{messages.StageASR2, cfg.ASR.Secondary, &links.ASR2, &links.ASR2Hyps},
	}
	for _, r := range recognizers {
		if r.backend == "" {
			continue
		}
		recognizer, err := stt.NewRecognizer(ctx, logger, r.backend, cfg.ASR)
		if err != nil {
			return links, nil, fmt.Errorf("create %s recognizer: %w", r.name, err)
		}
		recognizer = stt.WithBreaker(recognizer, breakers.GetCircuitBreaker(r.name+"/"+recognizer.Name(), circuitbreaker.RecognizerConfig()))
		hubCommands, stageCommands := channel.Pipe[messages.Envelope]()
		hubHyps, stageHyps := channel.Pipe[messages.Hypothesis]()
		vadOut, sttIn := channel.Pipe[messages.AudioFrame]()
		*r.commands, *r.hyps = hubCommands, hubHyps
		vadOutputs = append(vadOutputs, vadOut)

		supervisor.Add(stt.NewStage(logger, r.name, recognizer, stageCommands, sttIn, stageHyps), stageCommands)
	}

	// voice activity
	hubVAD, vadCommands := channel.Pipe[messages.Envelope]()
	links.VAD = hubVAD
	supervisor.Add(audio.NewStage(logger, cfg.VAD, vadCommands, vadFrames, vadOutputs...), vadCommands)

	// translator
	translator, err := mt.NewTranslator(ctx, logger, cfg.MT)
	if err != nil {
		return links, nil, fmt.Errorf("create translator: %w", err)
	}
	translator = mt.WithBreaker(translator, breakers.GetCircuitBreaker(messages.StageMT+"/"+translator.Name(), circuitbreaker.TranslatorConfig()))
	hubMT, mtCommands := channel.Pipe[messages.Envelope]()
	hubMTData, mtData := channel.Pipe[messages.Hypothesis]()
	links.MT, links.MTData = hubMT, hubMTData
	supervisor.Add(mt.NewStage(logger, translator, mtCommands, mtData), mtCommands)

	// synthesizers
	synthesizers := []struct {
		name     string
		cfg      config.TTSConfig
		commands *worker.CommandEndpoint
		audio    **channel.Endpoint[messages.Utterance]
	}{
		{messages.StageTTS, cfg.TTS, &links.TTS, &links.TTSAudio},
		{messages.StageSrcTTS, cfg.SourceTTS, &links.SrcTTS, &links.SrcTTSAudio},
	}
	for _, s := range synthesizers {
		synthesizer, err := tts.NewSynthesizer(logger, s.cfg)
		if err != nil {
			return links, nil, fmt.Errorf("create %s synthesizer: %w", s.name, err)
		}
		synthesizer = tts.WithBreaker(synthesizer, breakers.GetCircuitBreaker(s.name+"/"+synthesizer.Name(), circuitbreaker.SynthesizerConfig()))
		hubCommands, stageCommands := channel.Pipe[messages.Envelope]()
		hubAudio, stageAudio := channel.Pipe[messages.Utterance]()
		*s.commands, *s.audio = hubCommands, hubAudio
		supervisor.Add(tts.NewStage(logger, s.name, synthesizer, stageCommands, stageAudio), stageCommands)
	}

	logger.WithFields(logrus.Fields{
		"stages":      supervisor.Stages(),
		"recognizers": links.Recognizers(),
	}).Info("Pipeline assembled")

	return links, sipServer, nil
}
