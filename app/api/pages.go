package api

import (
	"fmt"
	"guilded/m/v2/app/config"
	"html"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
)

// The dashboard itself is a separate frontend. These placeholders give the access rules real
// targets to protect and redirect to.
func RegisterPages(rtr *router.Router) {
	rtr.GET("/dashboard", page("Dashboard"))
	rtr.GET("/dashboard/{section:*}", page("Dashboard"))
	rtr.GET("/login", page("Sign in"))
	rtr.GET("/upgrade", page("Upgrade your plan"))
	rtr.GET("/pricing", page("Pricing"))
}

func page(title string) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		ctx.SetContentType("text/html; charset=utf-8")
		ctx.SetStatusCode(fasthttp.StatusOK)
		_, _ = fmt.Fprintf(ctx, "<!doctype html><title>%s · %s</title><h1>%s</h1>",
			html.EscapeString(title), html.EscapeString(config.CONFIG.AppName), html.EscapeString(title))
	}
}
