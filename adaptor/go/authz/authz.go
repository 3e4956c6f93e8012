// Package authz serves the appliance's late-binding authorization endpoint:
// a batched query asking whether one identity may see each of a list of
// document URLs.
package authz

import (
	"encoding/xml"
	"net/http"
	"net/url"

	"github.com/gsa-connectors/adaptor/adaptor/go/acl"
	"github.com/gsa-connectors/adaptor/adaptor/go/docid"
	"github.com/gsa-connectors/adaptor/go/httputils"
	"github.com/gsa-connectors/adaptor/go/metrics2"
	"github.com/gsa-connectors/adaptor/go/skerr"
	"github.com/gsa-connectors/adaptor/go/sklog"
)

// request is the SAML-flavored batch query the appliance posts.
type request struct {
	XMLName xml.Name `xml:"AuthzBatch"`
	Subject string   `xml:"Subject"`
	Groups  []string `xml:"Group"`
	Queries []struct {
		Resource string `xml:"Resource,attr"`
	} `xml:"Query"`
}

type result struct {
	XMLName  xml.Name `xml:"Result"`
	Resource string   `xml:"Resource,attr"`
	Decision string   `xml:"Decision,attr"`
}

type response struct {
	XMLName xml.Name `xml:"AuthzBatchResponse"`
	Results []result `xml:"Result"`
}

// samlDecision maps internal decisions onto the appliance's wire words.
func samlDecision(d acl.Decision) string {
	switch d {
	case acl.Permit:
		return "Permit"
	case acl.Deny:
		return "Deny"
	default:
		return "Indeterminate"
	}
}

// Handler answers POST /authz using ACLs fetched through the retriever.
type Handler struct {
	codec     *docid.Codec
	retriever acl.BatchRetriever

	queries metrics2.Counter
}

// New returns a Handler evaluating against ACLs from the retriever. A nil
// retriever denies every decodable resource, the safe answer for
// repositories without late-binding authorization.
func New(codec *docid.Codec, retriever acl.BatchRetriever) *Handler {
	return &Handler{
		codec:     codec,
		retriever: retriever,
		queries:   metrics2.NewCounter("authz_queries", nil),
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "only POST is supported", http.StatusMethodNotAllowed)
		return
	}
	var req request
	if err := xml.NewDecoder(r.Body).Decode(&req); err != nil {
		httputils.ReportError(w, err, "Failed to parse the authorization query.", http.StatusBadRequest)
		return
	}
	identity, err := acl.NewIdentity(req.Subject, req.Groups...)
	if err != nil {
		httputils.ReportError(w, err, "The query names no valid subject.", http.StatusBadRequest)
		return
	}

	// Undecodable resources never reach the retriever; they are answered
	// Indeterminate so the appliance falls back to its own checks.
	ids := make([]docid.DocId, 0, len(req.Queries))
	byResource := make(map[string]docid.DocId, len(req.Queries))
	for _, q := range req.Queries {
		id, err := h.decodeResource(q.Resource)
		if err != nil {
			sklog.Infof("Undecodable authz resource %q: %s", q.Resource, err)
			continue
		}
		byResource[q.Resource] = id
		ids = append(ids, id)
	}

	decisions := map[docid.DocId]acl.Decision{}
	if h.retriever == nil {
		for _, id := range ids {
			decisions[id] = acl.Deny
		}
	} else {
		var err error
		decisions, err = acl.IsAuthorizedBatch(r.Context(), identity, ids, h.retriever)
		if err != nil {
			httputils.ReportError(w, err, "Authorization failed.", http.StatusInternalServerError)
			return
		}
	}
	h.queries.Inc(int64(len(req.Queries)))

	resp := response{}
	for _, q := range req.Queries {
		decision := acl.Indeterminate
		if id, ok := byResource[q.Resource]; ok {
			decision = decisions[id]
		}
		resp.Results = append(resp.Results, result{
			Resource: q.Resource,
			Decision: samlDecision(decision),
		})
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(resp); err != nil {
		sklog.Errorf("Failed to write authz response: %s", err)
	}
	_ = enc.Flush()
}

func (h *Handler) decodeResource(resource string) (docid.DocId, error) {
	u, err := url.Parse(resource)
	if err != nil {
		return "", skerr.Wrap(err)
	}
	u.RawQuery = ""
	u.Fragment = ""
	id, err := h.codec.Decode(u)
	if err != nil {
		return "", skerr.Wrap(err)
	}
	return id, nil
}
