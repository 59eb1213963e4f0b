package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fulfillment-core/internal/ai"
	"fulfillment-core/internal/app"
	"fulfillment-core/internal/carrier"
	"fulfillment-core/internal/core"
	"fulfillment-core/internal/db"
	"fulfillment-core/internal/events"
	"fulfillment-core/internal/notify"

	"github.com/joho/godotenv"
)

// Sweep cadences. Jobs fire quickly; the NDR deadline and remittance sweeps
// are coarse by nature.
const (
	jobInterval        = 15 * time.Second
	ndrSweepInterval   = 5 * time.Minute
	remittanceInterval = time.Hour
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()

	store := carrier.NewStore(pool)
	registry := carrier.NewRegistry(store)

	var publisher events.Publisher = events.NopPublisher{}
	if broker := os.Getenv("KAFKA_BROKER_URL"); broker != "" {
		topic := os.Getenv("KAFKA_SHIPMENT_TOPIC")
		if topic == "" {
			topic = "shipment-status"
		}
		kp := events.NewKafkaPublisher(broker, topic)
		defer kp.Close()
		publisher = kp
	}

	var sender notify.Sender = notify.LogSender{}
	if amqpURL := os.Getenv("RABBITMQ_URL"); amqpURL != "" {
		amqpSender, err := notify.NewAMQPSender(amqpURL)
		if err != nil {
			log.Fatalf("rabbitmq: %v", err)
		}
		defer amqpSender.Close()
		sender = amqpSender
	}

	var classifier core.ReasonClassifier
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		classifier = ai.NewClassifier(apiKey)
	}

	wallets := core.NewWalletService(pool)
	orders := core.NewOrderService(pool)
	quotes := core.NewQuoteService(pool, registry)
	booking := core.NewBookingService(pool, quotes, wallets, orders, registry, store, publisher)
	tracking := core.NewTrackingService(pool, registry, publisher)
	jobs := core.NewJobService(pool)
	rto := core.NewRTOService(pool, wallets, registry, store, publisher)
	ndr := core.NewNDRService(pool, sender, classifier, jobs, rto)
	cod := core.NewCODService(pool)
	remittance := core.NewRemittanceService(pool, core.NewEligibilityChecker(pool))

	svc := app.NewAppService(registry, orders, quotes, booking, tracking, ndr, cod, remittance, jobs)

	log.Println("worker starting")
	go loop(ctx, "jobs", jobInterval, svc.RunScheduledJobs)
	go loop(ctx, "ndr-sweep", ndrSweepInterval, svc.SweepNDRDeadlines)
	go loop(ctx, "remittance", remittanceInterval, svc.SweepRemittances)

	<-ctx.Done()
	log.Println("worker shutting down")
}

// loop runs fn on a fixed cadence until the context is cancelled.
func loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) (int, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := fn(ctx)
			if err != nil {
				log.Printf("worker %s: %v", name, err)
				continue
			}
			if n > 0 {
				log.Printf("worker %s: processed %d", name, n)
			}
		}
	}
}
