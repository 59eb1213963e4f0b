package main

import (
	"context"
	"log"
	"net/http"
	"os"

	webAdapter "fulfillment-core/internal/adapters/web"
	"fulfillment-core/internal/ai"
	"fulfillment-core/internal/app"
	"fulfillment-core/internal/carrier"
	"fulfillment-core/internal/core"
	"fulfillment-core/internal/db"
	"fulfillment-core/internal/events"
	"fulfillment-core/internal/notify"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
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
	} else {
		log.Println("Warning: OPENAI_API_KEY is not set, NDR classification falls back to keywords")
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

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	handler := webAdapter.NewHandler(svc, os.Getenv("ALLOWED_ORIGINS"), jwtSecret)

	log.Printf("server starting on :%s", port)
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatalf("server: %v", err)
	}
}
