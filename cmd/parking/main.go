package main

import (
	"github.com/mmsalmanfaris/Smart-Parking-System/internal/bookings/events"
	bookinghandler "github.com/mmsalmanfaris/Smart-Parking-System/internal/bookings/handler"
	bookingrepo "github.com/mmsalmanfaris/Smart-Parking-System/internal/bookings/repository"
	bookingservice "github.com/mmsalmanfaris/Smart-Parking-System/internal/bookings/service"
	"github.com/mmsalmanfaris/Smart-Parking-System/internal/bookings/validator"
	catalogrepo "github.com/mmsalmanfaris/Smart-Parking-System/internal/catalog/repository"
	slothandler "github.com/mmsalmanfaris/Smart-Parking-System/internal/slots/handler"
	slotrepo "github.com/mmsalmanfaris/Smart-Parking-System/internal/slots/repository"
	slotservice "github.com/mmsalmanfaris/Smart-Parking-System/internal/slots/service"
	"github.com/mmsalmanfaris/Smart-Parking-System/pkg/app"
	"github.com/mmsalmanfaris/Smart-Parking-System/pkg/config"
	pkgkafka "github.com/mmsalmanfaris/Smart-Parking-System/pkg/kafka"
	kafka_config "github.com/mmsalmanfaris/Smart-Parking-System/pkg/kafka/config"
)

func main() {
	cfg := config.Load("parking-api")
	cfg.SetMongo()

	publisher := buildPublisher(cfg)
	defer func() {
		if err := publisher.Close(); err != nil {
			cfg.Log.Error("Failed to close event publisher", "error", err)
		}
	}()

	bookingRepository := bookingrepo.NewMongoBookingRepository(cfg)
	slotLockRepository := bookingrepo.NewMongoSlotLockRepository(cfg)
	slotRepository := slotrepo.NewMongoSlotRepository(cfg)
	catalogRepository := catalogrepo.NewMongoCatalogRepository(cfg)

	slotRegistry := slotservice.NewSlotRegistry(slotRepository, bookingRepository, cfg)
	reconciler := bookingservice.NewConsistencyGuard(slotRegistry, bookingRepository, cfg.Log)
	bookingValidator := validator.NewBookingValidator()

	bookingService := bookingservice.NewBookingService(
		bookingRepository,
		slotLockRepository,
		catalogRepository,
		slotRegistry,
		bookingValidator,
		publisher,
		reconciler,
		cfg,
	)

	sweeper := bookingservice.NewExpirySweeper(bookingRepository, reconciler, slotRegistry, publisher, cfg)
	sweeper.Start()

	application := app.NewApplication(cfg)
	application.AddWorker(sweeper)
	application.SetApp(
		bookinghandler.NewBookingHandler(bookingService, cfg.Log),
		slothandler.NewSlotHandler(slotRegistry, cfg.Log),
	)
	application.Run()
}

func buildPublisher(cfg *config.Config) events.EventPublisher {
	kafkaCfg := kafka_config.Load()
	kafkaCfg.LogConfiguration(cfg.Log.Info)

	if !kafkaCfg.Enabled() {
		cfg.Log.Info("Kafka brokers not configured, booking events disabled")
		return events.NewNoopPublisher()
	}

	producer, err := pkgkafka.NewProducer(kafkaCfg, cfg.BookingEventsTopic, cfg.BookingEventsDLQTopic)
	if err != nil {
		cfg.Log.Fatal("Failed to create Kafka producer", "error", err)
	}

	return events.NewKafkaPublisher(producer, cfg.Log)
}
