package authz

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gsa-connectors/adaptor/adaptor/go/acl"
	"github.com/gsa-connectors/adaptor/adaptor/go/docid"
	"github.com/gsa-connectors/adaptor/adaptor/go/principal"
	"github.com/gsa-connectors/adaptor/go/metrics2"
)

func init() {
	metrics2.InitForTesting(metrics2.NewMuteClient())
}

func testCodec(t *testing.T) *docid.Codec {
	base, err := url.Parse("http://localhost:5678/doc/")
	require.NoError(t, err)
	codec, err := docid.NewCodec(base, false)
	require.NoError(t, err)
	return codec
}

func user(t *testing.T, name string) principal.Principal {
	p, err := principal.NewUser(name)
	require.NoError(t, err)
	return p
}

func post(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, map[string]string) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/authz", strings.NewReader(body))
	h.ServeHTTP(w, r)
	var resp struct {
		Results []struct {
			Resource string `xml:"Resource,attr"`
			Decision string `xml:"Decision,attr"`
		} `xml:"Result"`
	}
	decisions := map[string]string{}
	if w.Code == http.StatusOK {
		require.NoError(t, xml.Unmarshal(w.Body.Bytes(), &resp))
		for _, res := range resp.Results {
			decisions[res.Resource] = res.Decision
		}
	}
	return w, decisions
}

func TestHandler_Batch(t *testing.T) {
	acls := map[docid.DocId]acl.Acl{
		"public":  acl.NewBuilder().PermitUsers([]principal.Principal{user(t, "alice")}).MustBuild(),
		"private": acl.NewBuilder().DenyUsers([]principal.Principal{user(t, "alice")}).MustBuild(),
	}
	retriever := acl.BatchRetrieverFunc(func(ctx context.Context, ids []docid.DocId) (map[docid.DocId]acl.Acl, error) {
		ret := map[docid.DocId]acl.Acl{}
		for _, id := range ids {
			if a, ok := acls[id]; ok {
				ret[id] = a
			}
		}
		return ret, nil
	})
	h := New(testCodec(t), retriever)

	w, decisions := post(t, h, `
<AuthzBatch>
  <Subject>alice</Subject>
  <Query Resource="http://localhost:5678/doc/public"/>
  <Query Resource="http://localhost:5678/doc/private"/>
  <Query Resource="http://localhost:5678/doc/unknown"/>
  <Query Resource="http://elsewhere.example.com/other"/>
</AuthzBatch>`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Permit", decisions["http://localhost:5678/doc/public"])
	require.Equal(t, "Deny", decisions["http://localhost:5678/doc/private"])
	// No ACL means the appliance must decide for itself.
	require.Equal(t, "Indeterminate", decisions["http://localhost:5678/doc/unknown"])
	// A resource outside the base URL never reaches the repository.
	require.Equal(t, "Indeterminate", decisions["http://elsewhere.example.com/other"])
	require.Len(t, decisions, 4)
}

func TestHandler_GroupsMatter(t *testing.T) {
	eng, err := principal.NewGroup("eng")
	require.NoError(t, err)
	acls := map[docid.DocId]acl.Acl{
		"doc": acl.NewBuilder().PermitGroups([]principal.Principal{eng}).MustBuild(),
	}
	retriever := acl.BatchRetrieverFunc(func(ctx context.Context, ids []docid.DocId) (map[docid.DocId]acl.Acl, error) {
		return acls, nil
	})
	h := New(testCodec(t), retriever)

	_, decisions := post(t, h, `
<AuthzBatch>
  <Subject>bob</Subject>
  <Group>eng</Group>
  <Query Resource="http://localhost:5678/doc/doc"/>
</AuthzBatch>`)
	require.Equal(t, "Permit", decisions["http://localhost:5678/doc/doc"])

	_, decisions = post(t, h, `
<AuthzBatch>
  <Subject>bob</Subject>
  <Query Resource="http://localhost:5678/doc/doc"/>
</AuthzBatch>`)
	// Without the group the single-node chain is indeterminate, coerced to
	// Deny.
	require.Equal(t, "Deny", decisions["http://localhost:5678/doc/doc"])
}

func TestHandler_NilRetrieverDeniesAll(t *testing.T) {
	h := New(testCodec(t), nil)
	_, decisions := post(t, h, `
<AuthzBatch>
  <Subject>alice</Subject>
  <Query Resource="http://localhost:5678/doc/anything"/>
  <Query Resource="http://elsewhere.example.com/other"/>
</AuthzBatch>`)
	require.Equal(t, "Deny", decisions["http://localhost:5678/doc/anything"])
	// Resources this connector does not serve stay out of its hands.
	require.Equal(t, "Indeterminate", decisions["http://elsewhere.example.com/other"])
}

func TestHandler_BadRequests(t *testing.T) {
	h := New(testCodec(t), acl.BatchRetrieverFunc(func(ctx context.Context, ids []docid.DocId) (map[docid.DocId]acl.Acl, error) {
		return nil, nil
	}))

	w, _ := post(t, h, "not xml at all <<<")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = post(t, h, "<AuthzBatch><Query Resource=\"http://localhost:5678/doc/x\"/></AuthzBatch>")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/authz", nil))
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
