// SPDX-FileCopyrightText: 2019, 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dtn7/bpstream/pkg/agent"
	"github.com/dtn7/bpstream/pkg/bpa"
	"github.com/dtn7/bpstream/pkg/bpv7"
	"github.com/dtn7/bpstream/pkg/cla"
	"github.com/dtn7/bpstream/pkg/cla/quicl"
	"github.com/dtn7/bpstream/pkg/cla/stcp"
	"github.com/dtn7/bpstream/pkg/discovery"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Core      coreConf
	Logging   logConf
	Discovery discoveryConf
	Agent     agentConf
	Listen    []convergenceConf
	Peer      []convergenceConf
	Cron      cronConf
}

// coreConf describes the Core-configuration block.
type coreConf struct {
	Store     string
	NodeId    string `toml:"node-id"`
	MaxPasses int    `toml:"max-passes"`
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
	File         string
	MaxSize      int `toml:"max-size"`
	MaxBackups   int `toml:"max-backups"`
}

// discoveryConf describes the Discovery-configuration block.
type discoveryConf struct {
	IPv4     bool
	IPv6     bool
	Interval uint
}

// agentConf describes the HTTP server for the ApplicationAgents.
type agentConf struct {
	Listen string
	Ping   string
}

// convergenceConf describes the Convergence-configuration block, used for
// "listen" and "peer".
type convergenceConf struct {
	Node     string
	Protocol string
	Endpoint string
}

// cronConf describes the periodic tasks.
type cronConf struct {
	PurgeInterval string `toml:"purge-interval"`
}

// ConfigError is returned for an unusable configuration.
type ConfigError struct {
	message string
	cause   error
}

func newConfigError(message string, cause error) *ConfigError {
	return &ConfigError{message: message, cause: cause}
}

func (ce *ConfigError) Error() string {
	if ce.cause == nil {
		return ce.message
	}
	return fmt.Sprintf("%s: %v", ce.message, ce.cause)
}

func (ce *ConfigError) Unwrap() error {
	return ce.cause
}

// daemon bundles everything started from the configuration.
type daemon struct {
	core      *bpa.Core
	discovery *discovery.Manager
	server    *http.Server
}

// Close all parts of this daemon.
func (d *daemon) Close() {
	if d.server != nil {
		if err := d.server.Close(); err != nil {
			log.WithError(err).Warn("Closing HTTP server errored")
		}
	}

	if d.discovery != nil {
		d.discovery.Close()
	}

	d.core.Close()
}

// setupLogging applies the Logging-configuration block.
func setupLogging(conf logConf) error {
	if conf.Level != "" {
		lvl, err := log.ParseLevel(conf.Level)
		if err != nil {
			return newConfigError("logging.level is invalid, use one of panic,fatal,error,warn,info,debug,trace", err)
		}
		log.SetLevel(lvl)
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		return newConfigError(fmt.Sprintf("logging.format %q is unknown", conf.Format), nil)
	}

	if conf.File != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   conf.File,
			MaxSize:    conf.MaxSize,
			MaxBackups: conf.MaxBackups,
		})
	}

	return nil
}

func parseListenPort(endpoint string) (port uint, err error) {
	_, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return
	}

	portInt, err := strconv.ParseUint(portStr, 10, 16)
	return uint(portInt), err
}

// parseListen inspects a "listen" convergenceConf and returns a Convergable and its Announcement.
func parseListen(reg *bpv7.Registry, conv convergenceConf, nodeId bpv7.EndpointID) (cla.Convergable, discovery.Announcement, error) {
	claType, err := cla.ParseCLAType(conv.Protocol)
	if err != nil {
		return nil, discovery.Announcement{}, newConfigError("listen.protocol is unknown", err)
	}

	port, err := parseListenPort(conv.Endpoint)
	if err != nil {
		return nil, discovery.Announcement{}, newConfigError(fmt.Sprintf("listen.endpoint %q is invalid", conv.Endpoint), err)
	}

	announcement := discovery.Announcement{
		Type:     claType,
		Endpoint: nodeId,
		Port:     port,
	}

	switch claType {
	case cla.STCP:
		return stcp.NewSTCPServer(reg, conv.Endpoint, nodeId, true), announcement, nil

	case cla.QUICL:
		return quicl.NewQUICListener(reg, conv.Endpoint, nodeId), announcement, nil

	default:
		return nil, discovery.Announcement{}, newConfigError(fmt.Sprintf("listen.protocol %q cannot listen", conv.Protocol), nil)
	}
}

// parsePeer inspects a "peer" convergenceConf and returns a ConvergenceSender.
func parsePeer(reg *bpv7.Registry, conv convergenceConf, nodeId bpv7.EndpointID) (cla.ConvergenceSender, error) {
	claType, err := cla.ParseCLAType(conv.Protocol)
	if err != nil {
		return nil, newConfigError("peer.protocol is unknown", err)
	}

	switch claType {
	case cla.STCP:
		endpointID, err := reg.NewEndpointID(conv.Node)
		if err != nil {
			return nil, newConfigError(fmt.Sprintf("peer.node %q is invalid", conv.Node), err)
		}
		return stcp.NewSTCPClient(reg, conv.Endpoint, endpointID, true), nil

	case cla.QUICL:
		endpoint, err := quicl.NewDialerEndpoint(reg, conv.Endpoint, nodeId, true)
		if err != nil {
			return nil, newConfigError(fmt.Sprintf("peer.endpoint %q is invalid", conv.Endpoint), err)
		}
		return endpoint, nil

	default:
		return nil, newConfigError(fmt.Sprintf("peer.protocol %q cannot dial", conv.Protocol), nil)
	}
}

// parseAgents starts the HTTP server for the WebSocket and the REST agent.
func parseAgents(reg *bpv7.Registry, conf agentConf, c *bpa.Core) (*http.Server, error) {
	if conf.Ping != "" {
		pingEid, err := reg.NewEndpointID(conf.Ping)
		if err != nil {
			return nil, newConfigError(fmt.Sprintf("agent.ping %q is invalid", conf.Ping), err)
		}
		c.RegisterApplicationAgent(agent.NewPing(pingEid))
	}

	if conf.Listen == "" {
		return nil, nil
	}

	router := mux.NewRouter().UseEncodedPath()

	ws := agent.NewWebSocketAgent(reg)
	router.Handle("/ws", ws)
	c.RegisterApplicationAgent(ws)

	rest := agent.NewRestAgent(reg, c.Store(), router.PathPrefix("/rest").Subrouter())
	c.RegisterApplicationAgent(rest)

	server := &http.Server{
		Addr:              conf.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).WithField("listen", conf.Listen).Fatal("HTTP server for agents failed")
		}
	}()

	log.WithField("listen", conf.Listen).Info("Started HTTP server for agents")
	return server, nil
}

// newRegistry with the CLA endpoint scheme for all known CLAs.
func newRegistry() (*bpv7.Registry, error) {
	rb := bpv7.NewRegistryBuilder()
	if err := cla.RegisterCLAs(rb); err != nil {
		return nil, err
	}
	return rb.Build(), nil
}

// parseCore creates the Core and its surroundings based on the given TOML configuration.
func parseCore(filename string) (d *daemon, err error) {
	var conf tomlConfig
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return nil, newConfigError("decoding TOML failed", err)
	}

	if err = setupLogging(conf.Logging); err != nil {
		return
	}

	reg, err := newRegistry()
	if err != nil {
		var ame *bpv7.AlreadyManagedError
		if errors.As(err, &ame) {
			log.WithError(err).Fatal("Registering CLAs failed")
		}
		return nil, err
	}

	// Core
	if conf.Core.Store == "" {
		return nil, newConfigError("core.store is empty", nil)
	}

	nodeId, err := reg.NewEndpointID(conf.Core.NodeId)
	if err != nil {
		return nil, newConfigError(fmt.Sprintf("core.node-id %q is invalid", conf.Core.NodeId), err)
	}

	var purgeInterval time.Duration
	if conf.Cron.PurgeInterval != "" {
		if purgeInterval, err = time.ParseDuration(conf.Cron.PurgeInterval); err != nil {
			return nil, newConfigError("cron.purge-interval is invalid", err)
		}
	}

	c, err := bpa.NewCore(reg, conf.Core.Store, nodeId, conf.Core.MaxPasses, purgeInterval)
	if err != nil {
		return nil, err
	}
	d = &daemon{core: c}

	defer func() {
		if err != nil {
			d.Close()
			d = nil
		}
	}()

	if d.server, err = parseAgents(reg, conf.Agent, c); err != nil {
		return
	}

	// Listen/ConvergenceReceiver
	var announcements []discovery.Announcement
	for _, conv := range conf.Listen {
		convRec, announcement, lErr := parseListen(reg, conv, c.NodeId)
		if lErr != nil {
			err = lErr
			return
		}

		announcements = append(announcements, announcement)
		c.RegisterCLA(convRec, announcement.Type, c.NodeId)
	}

	// Peer/ConvergenceSender
	for _, conv := range conf.Peer {
		convRec, pErr := parsePeer(reg, conv, c.NodeId)
		if pErr != nil {
			log.WithFields(log.Fields{
				"peer":  conv.Endpoint,
				"error": pErr,
			}).Warn("Failed to establish a connection to a peer")
			continue
		}

		c.RegisterConvergable(convRec)
	}

	// Discovery
	if conf.Discovery.IPv4 || conf.Discovery.IPv6 {
		if conf.Discovery.Interval == 0 {
			conf.Discovery.Interval = 10
		}

		d.discovery, err = discovery.NewManager(
			reg, c.NodeId, c.RegisterConvergable, announcements,
			time.Duration(conf.Discovery.Interval)*time.Second,
			conf.Discovery.IPv4, conf.Discovery.IPv6)
		if err != nil {
			return
		}
	}

	return
}
