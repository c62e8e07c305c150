// Package engine wires the durable profile together and provides the
// application-level API for submitting watermark tasks.
//
// # Building an Engine
//
//	p, err := unmark.New(
//	    unmark.WithStore(pgStore),
//	    unmark.WithConcurrency(5),
//	    unmark.WithMaxAttempts(3),
//	)
//
//	client, err := remote.New(cfg.Vendor.BaseURL, cfg.Vendor.APIKey)
//
//	eng, err := engine.Build(p,
//	    engine.WithVendor(client),
//	    engine.WithQueueLimits(queue.Limits{
//	        Queue:           removal.Queue,
//	        MaxInFlight:     5,
//	        StartsPerSecond: 2,
//	    }),
//	)
//
// # Submitting Work
//
//	j, err := eng.Submit(ctx, removal.Submission{
//	    TaskID:      "task_123",
//	    OriginalURL: "https://cdn.example.com/in.png",
//	    UserID:      "user_42",
//	})
//
// A task id can only have one live job; submitting it again returns
// unmark.ErrJobAlreadyExists.
//
// # Lifecycle
//
//	eng.Start(ctx)
//	defer eng.Stop(ctx)
package engine
