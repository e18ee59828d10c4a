package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/opst/assetgraph/cmd/assetgraphd/handlers"
	"github.com/opst/assetgraph/pkg/buildtime"
	"github.com/opst/assetgraph/pkg/configs/server"
	"github.com/opst/assetgraph/pkg/echoutil"
	"github.com/opst/assetgraph/pkg/layout"
	"github.com/opst/assetgraph/pkg/livedata"
	"github.com/opst/assetgraph/pkg/utils/filewatch"
)

func main() {
	configPath := flag.String("config-path", "", "config file path. if empty, configured by environment variables only")
	envFile := flag.String("env-file", ".env", "dotenv file to be loaded, if exists")
	pversion := flag.Bool("version", false, "show version")
	flag.Parse()

	if *pversion {
		log.Println(buildtime.VersionString())
		return
	}
	log.Printf("assetgraphd %s", buildtime.VersionString())

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("can not read %s: %s", *envFile, err)
	}

	conf, err := server.LoadServerConfig(*configPath)
	if err != nil {
		log.Fatalf("can not read configuration: %s", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *configPath != "" {
		wctx, cancel, err := filewatch.UntilModified(ctx, *configPath)
		if err != nil {
			log.Fatalf("can not watch configuration: %s", err)
		}
		defer cancel()
		context.AfterFunc(wctx, func() {
			if cause := context.Cause(wctx); errors.Is(cause, filewatch.ErrModified) {
				log.Printf("%s. quit to restart server.", cause)
				stop()
			}
		})
	}

	logger := log.New(os.Stderr, "[assetgraphd] ", log.LstdFlags|log.Lmsgprefix)

	fetcher, closeFetcher, err := newFetcher(ctx, conf.Fetcher(), logger)
	if err != nil {
		log.Fatalf("can not start fetcher: %s", err)
	}
	defer closeFetcher()

	options := []livedata.Option{
		livedata.WithConfig(conf.Scheduler().Config()),
		livedata.WithLogger(logger),
	}
	threads := conf.Threads()
	for _, thread := range conf.ThreadIDs() {
		options = append(options, livedata.WithThread(thread, threads[thread]))
	}
	manager := livedata.New(fetcher, options...)
	subs := handlers.NewSubscriptions(manager)

	cache, err := layout.NewCache(conf.Layout().CacheSize())
	if err != nil {
		log.Fatalf("can not create layout cache: %s", err)
	}
	layoutDefaults := layout.Options{Mini: conf.Layout().Mini()}

	e := echo.New()
	e.HideBanner = true
	e.Pre(middleware.AddTrailingSlash())
	echoutil.SetLevel(e, conf.LogLevel())
	e.HTTPErrorHandler = echoutil.ErrorHandler(e)
	e.Use(echoutil.LogHandlerFunc)

	api := func(p string) string { return "/api/" + p + "/" }
	{
		e.GET(api("livedata"), handlers.GetLiveDataHandler(manager, subs))
		e.GET(api("livedata/watch"), handlers.WatchLiveDataHandler(manager, conf.Scheduler().NotifyInterval()))
		e.POST(api("livedata/refresh"), handlers.RefreshHandler(manager))
		e.GET(api("livedata/status"), handlers.StatusHandler(manager))
		e.PUT(api("livedata/visibility"), handlers.VisibilityHandler(manager))
		e.POST(api("livedata/launched"), handlers.LaunchedHandler(manager))
		e.POST(api("livedata/events"), handlers.RunEventsHandler(manager))
	}
	{
		e.POST(api("layout"), handlers.LayoutHandler(cache, layoutDefaults))
		e.POST(api("layout/dot"), handlers.LayoutDotHandler(cache, layoutDefaults))
	}
	log.Println("registered routes:")
	for _, r := range e.Routes() {
		log.Println(r.Method, r.Path)
	}

	scheduler := make(chan error, 1)
	go func() {
		scheduler <- manager.Run(ctx)
	}()

	context.AfterFunc(ctx, func() {
		graceful, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := e.Shutdown(graceful); err != nil {
			log.Printf("error on shutdown: %s", err)
		}
	})

	if err := e.Start(conf.Listen()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("server stopped: %s", err)
	}

	stop()
	subs.Close()
	manager.Close()
	if err := <-scheduler; err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("scheduler stopped: %s", err)
	}
	manager.Wait()
}
