package llm

import (
	"shenbaosift/internal/config"
	"shenbaosift/internal/httpx"
)

type Config = config.Config

var externalHTTPClient = httpx.ExternalHTTPClient()
