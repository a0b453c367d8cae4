package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/lodeweb/lodestone/activitypub"
	"github.com/lodeweb/lodestone/db"
	"github.com/lodeweb/lodestone/util"
	"github.com/lodeweb/lodestone/web"
)

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	database := db.GetDB()
	fed := activitypub.New(database, conf)

	if conf.Conf.WithFederation {
		// The instance actor and its keys exist before the first
		// request comes in
		instanceActor, err := fed.Registry.FindOrCreateInstanceActor()
		if err != nil {
			log.Fatalln(err)
		}
		if _, err := fed.Keys.EnsureKeysFor(instanceActor); err != nil {
			log.Fatalln(err)
		}

		quit := make(chan struct{})
		fed.Start(quit)
		defer close(quit)
	}

	startServing(conf, fed)
}

func startServing(conf *util.AppConfig, fed *activitypub.Federation) {
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := web.Router(conf, fed); err != nil {
			log.Fatalln(err)
		}
	}()

	<-done
	log.Println("Stopping server")
	if err := db.GetDB().Close(); err != nil {
		log.Println(err)
	}
}
