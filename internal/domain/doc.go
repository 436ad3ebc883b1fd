package domain

// Package domain contains the core business concepts for the screenshot service.
// Keep this package free of transport (gRPC/HTTP) and infrastructure (browser/Redis) concerns.
