// SPDX-FileCopyrightText: 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/bpstream/pkg/bpv7"
	"github.com/dtn7/bpstream/pkg/storage"
)

// BundleStore is the read access to stored bundles, offered by a storage.Store.
type BundleStore interface {
	QueryAll() ([]storage.BundleItem, error)
	QueryKey(key string) (storage.BundleItem, error)
	Load(bi storage.BundleItem) (bpv7.Bundle, error)
}

// RestAgent is a RESTful ApplicationAgent.
//
// Bundles are submitted by POSTing a bundle stream to /bundles. The store's content is listed by GET /bundles and a
// single bundle is fetched by GET /bundles/{id}, with a path escaped ID. Clients receive bundles by registering an
// endpoint at /register and polling /fetch with the returned UUID.
type RestAgent struct {
	reg    *bpv7.Registry
	store  BundleStore
	router *mux.Router

	receiver chan Message
	sender   chan Message

	// map UUIDs to EIDs and received bundles
	clients sync.Map // uuid[string] -> bpv7.EndpointID
	mailbox sync.Map // uuid[string] -> []bpv7.Bundle
	mutex   sync.Mutex
}

// NewRestAgent creates a new RESTful ApplicationAgent, registering its routes at the router. The router must be
// configured with UseEncodedPath.
func NewRestAgent(reg *bpv7.Registry, store BundleStore, router *mux.Router) (ra *RestAgent) {
	ra = &RestAgent{
		reg:    reg,
		store:  store,
		router: router,

		receiver: make(chan Message),
		sender:   make(chan Message),
	}

	ra.router.HandleFunc("/bundles", ra.handlePostBundles).Methods(http.MethodPost)
	ra.router.HandleFunc("/bundles", ra.handleListBundles).Methods(http.MethodGet)
	ra.router.HandleFunc("/bundles/{id}", ra.handleGetBundle).Methods(http.MethodGet)

	ra.router.HandleFunc("/register", ra.handleRegister).Methods(http.MethodPost)
	ra.router.HandleFunc("/unregister", ra.handleUnregister).Methods(http.MethodPost)
	ra.router.HandleFunc("/fetch", ra.handleFetch).Methods(http.MethodPost)

	go ra.handler()

	return ra
}

// ServeHTTP is a http.Handler to be bound to a HTTP endpoint, e.g., /rest.
func (ra *RestAgent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ra.router.ServeHTTP(w, r)
}

func (ra *RestAgent) handler() {
	defer close(ra.sender)

	for msg := range ra.receiver {
		switch msg := msg.(type) {
		case BundleMessage:
			ra.deliver(msg.Bundle)

		case ShutdownMessage:
			log.Debug("RestAgent received a shutdown")
			return

		default:
			log.WithField("message", msg).Info("RestAgent received unsupported Message")
		}
	}
}

// deliver a Bundle into the mailbox of each client registered for its destination.
func (ra *RestAgent) deliver(b bpv7.Bundle) {
	ra.mutex.Lock()
	defer ra.mutex.Unlock()

	dst := []bpv7.EndpointID{b.PrimaryBlock.Destination}
	ra.clients.Range(func(k, v interface{}) bool {
		if newEndpointSet(v.(bpv7.EndpointID)).containsAny(dst) {
			var bundles []bpv7.Bundle
			if box, ok := ra.mailbox.Load(k); ok {
				bundles = box.([]bpv7.Bundle)
			}
			ra.mailbox.Store(k, append(bundles, b))

			log.WithFields(log.Fields{
				"uuid":   k,
				"bundle": b.ID(),
			}).Info("RestAgent stored Bundle for client")
		}
		return true
	})
}

func writeJson(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to write REST response")
	}
}

// handlePostBundles reads a stream of bundles from the request's body.
func (ra *RestAgent) handlePostBundles(w http.ResponseWriter, r *http.Request) {
	var response RestPostResponse

	err := ra.reg.ReadBundles(r.Body, func(b bpv7.Bundle) {
		response.Bundles = append(response.Bundles, b.ID().String())
		ra.sender <- BundleMessage{b}
	})

	log.WithFields(log.Fields{
		"bundles": response.Bundles,
		"error":   err,
	}).Info("Processing REST bundle submission")

	if err != nil {
		response.Error = err.Error()
		writeJson(w, http.StatusBadRequest, response)
		return
	}
	writeJson(w, http.StatusOK, response)
}

// handleListBundles returns all BundleItems of the store.
func (ra *RestAgent) handleListBundles(w http.ResponseWriter, _ *http.Request) {
	bis, err := ra.store.QueryAll()
	if err != nil {
		log.WithError(err).Warn("Querying store for REST listing errored")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	items := make([]RestBundleItem, 0, len(bis))
	for _, bi := range bis {
		items = append(items, RestBundleItem{
			Id:          bi.Id,
			Source:      bi.Source,
			Destination: bi.Destination,
			Pending:     bi.Pending,
			Fragmented:  bi.Fragmented,
			Received:    bi.Received,
			Expires:     bi.Expires,
		})
	}
	writeJson(w, http.StatusOK, items)
}

// handleGetBundle returns a stored bundle as CBOR or, with the query "format=json", as JSON.
func (ra *RestAgent) handleGetBundle(w http.ResponseWriter, r *http.Request) {
	id, err := url.PathUnescape(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	bi, err := ra.store.QueryKey(id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "unknown bundle", http.StatusNotFound)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	b, err := ra.store.Load(bi)
	if errors.Is(err, storage.ErrFragmented) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("format") == "json" {
		writeJson(w, http.StatusOK, b)
		return
	}

	w.Header().Set("Content-Type", "application/cbor")
	if err := b.Serialize(ra.reg, bpv7.DefaultChunkSize, func(chunk []byte) error {
		_, writeErr := w.Write(chunk)
		return writeErr
	}); err != nil {
		log.WithError(err).WithField("bundle", id).Warn("Failed to write REST bundle")
	}
}

// handleRegister processes /register POST requests.
func (ra *RestAgent) handleRegister(w http.ResponseWriter, r *http.Request) {
	var (
		registerRequest  RestRegisterRequest
		registerResponse RestRegisterResponse
		status           = http.StatusOK
	)

	if jsonErr := json.NewDecoder(r.Body).Decode(&registerRequest); jsonErr != nil {
		registerResponse.Error = jsonErr.Error()
		status = http.StatusBadRequest
	} else if eid, eidErr := ra.reg.NewEndpointID(registerRequest.EndpointId); eidErr != nil {
		registerResponse.Error = eidErr.Error()
		status = http.StatusBadRequest
	} else {
		id := uuid.NewString()
		ra.clients.Store(id, eid)
		registerResponse.UUID = id
	}

	log.WithFields(log.Fields{
		"request":  registerRequest,
		"response": registerResponse,
	}).Info("Processing REST registration")

	writeJson(w, status, registerResponse)
}

// handleUnregister processes /unregister POST requests.
func (ra *RestAgent) handleUnregister(w http.ResponseWriter, r *http.Request) {
	var (
		unregisterRequest  RestUnregisterRequest
		unregisterResponse RestUnregisterResponse
		status             = http.StatusOK
	)

	if jsonErr := json.NewDecoder(r.Body).Decode(&unregisterRequest); jsonErr != nil {
		log.WithError(jsonErr).Warn("Failed to parse REST unregistration request")
		unregisterResponse.Error = jsonErr.Error()
		status = http.StatusBadRequest
	} else {
		log.WithField("uuid", unregisterRequest.UUID).Info("Unregister REST client")

		ra.mutex.Lock()
		ra.clients.Delete(unregisterRequest.UUID)
		ra.mailbox.Delete(unregisterRequest.UUID)
		ra.mutex.Unlock()
	}

	writeJson(w, status, unregisterResponse)
}

// handleFetch returns and clears a client's mailbox.
func (ra *RestAgent) handleFetch(w http.ResponseWriter, r *http.Request) {
	var (
		fetchRequest  RestFetchRequest
		fetchResponse RestFetchResponse
		status        = http.StatusOK
	)

	if jsonErr := json.NewDecoder(r.Body).Decode(&fetchRequest); jsonErr != nil {
		fetchResponse.Error = jsonErr.Error()
		status = http.StatusBadRequest
	} else if _, ok := ra.clients.Load(fetchRequest.UUID); !ok {
		fetchResponse.Error = "unknown UUID"
		status = http.StatusNotFound
	} else {
		ra.mutex.Lock()
		if box, ok := ra.mailbox.LoadAndDelete(fetchRequest.UUID); ok {
			fetchResponse.Bundles = box.([]bpv7.Bundle)
		}
		ra.mutex.Unlock()
	}

	writeJson(w, status, fetchResponse)
}

// Endpoints of all registered clients.
func (ra *RestAgent) Endpoints() (eids []bpv7.EndpointID) {
	ra.clients.Range(func(_, v interface{}) bool {
		eids = append(eids, v.(bpv7.EndpointID))
		return true
	})
	return
}

func (ra *RestAgent) MessageReceiver() chan Message {
	return ra.receiver
}

func (ra *RestAgent) MessageSender() chan Message {
	return ra.sender
}
