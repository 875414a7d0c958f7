// Package engine wires the backlog subsystems together: one job registry,
// one extension registry and one middleware chain shared by every queue,
// worker and cron entry of a process.
//
// # Building an Engine
//
//	store := redisstore.New(redis.NewClient(&redis.Options{Addr: "localhost:6379"}))
//
//	eng, err := engine.New(store,
//	    engine.WithLogger(logger),
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(myMiddleware),
//	    engine.WithFailureStore(pgStore),
//	)
//
// Or from a configuration file:
//
//	cfg, _ := backlog.LoadConfig("backlog.yaml")
//	eng, err := engine.Open(ctx, cfg, logger)
//	defer eng.Close()
//
// # Registering Work
//
//	engine.Register(eng, SendEmail)
//	engine.RegisterType[*CleanupTemp](eng, "cleanup-temp")
//	engine.RegisterCron(eng, &cron.Definition[ReportInput]{
//	    Name: "daily-report", Schedule: "0 9 * * *", Job: GenerateReport,
//	})
//
// # Enqueuing Jobs
//
//	engine.Enqueue(ctx, eng, SendEmail, EmailInput{To: "user@example.com"})
//	eng.Dispatch(ctx, &CleanupTemp{Dir: "/tmp/x"}, job.WithDelay(time.Minute))
//
// # Running Workers
//
//	w := eng.NewWorker("mail")
//	stop := w.HandleSignals(ctx)
//	defer stop()
//	err := w.Run(ctx)
//
// # Options
//
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware to the execution chain
//   - [WithJobTimeouts]: cancel targets at their running timeout
//   - [WithFailureStore]: record failures outside the queue store
//   - [WithTracerProvider], [WithMeterProvider]: OpenTelemetry providers
package engine
