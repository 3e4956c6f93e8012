package docserver

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gsa-connectors/adaptor/adaptor/go/acl"
	"github.com/gsa-connectors/adaptor/adaptor/go/principal"
)

func TestResponse_SettersOnlyInSetup(t *testing.T) {
	w := httptest.NewRecorder()
	r := newResponse(w, testCodec(t), false, true)
	require.NoError(t, r.SetContentType("text/plain"))
	require.NoError(t, r.RespondNotModified())

	require.ErrorIs(t, r.SetContentType("text/html"), ErrIllegalState)
	require.ErrorIs(t, r.SetLastModified(time.Now()), ErrIllegalState)
	require.ErrorIs(t, r.SetLock(true), ErrIllegalState)
	require.ErrorIs(t, r.RespondNotFound(), ErrIllegalState)
	_, err := r.OutputStream()
	require.ErrorIs(t, err, ErrIllegalState)
}

func TestResponse_OutputStreamThenRespondIsIllegal(t *testing.T) {
	w := httptest.NewRecorder()
	r := newResponse(w, testCodec(t), false, true)
	_, err := r.OutputStream()
	require.NoError(t, err)
	require.ErrorIs(t, r.RespondNotModified(), ErrIllegalState)
	require.ErrorIs(t, r.RespondNoContent(), ErrIllegalState)
}

func TestResponse_OutputStreamIsReentrant(t *testing.T) {
	w := httptest.NewRecorder()
	r := newResponse(w, testCodec(t), false, true)
	w1, err := r.OutputStream()
	require.NoError(t, err)
	w2, err := r.OutputStream()
	require.NoError(t, err)
	_, err = w1.Write([]byte("a"))
	require.NoError(t, err)
	_, err = w2.Write([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, "ab", w.Body.String())
	require.Equal(t, 200, w.Code)
}

func TestResponse_LazyHeaders(t *testing.T) {
	// Setters before the first body write still take effect even after
	// OutputStream was handed out.
	w := httptest.NewRecorder()
	r := newResponse(w, testCodec(t), false, true)
	bw, err := r.OutputStream()
	require.NoError(t, err)
	// Committed to SEND_BODY: setters now fail.
	require.ErrorIs(t, r.SetContentType("text/html"), ErrIllegalState)
	_, err = bw.Write([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, 200, w.Code)
}

func TestResponse_AclHeadersOnlyForAppliance(t *testing.T) {
	alice, err := principal.NewUser("alice")
	require.NoError(t, err)
	a := acl.NewBuilder().
		PermitUsers([]principal.Principal{alice}).
		InheritFromWithFragment("parent", "share").
		InheritanceType(acl.AndBothPermit).
		MustBuild()

	emit := func(toAppliance bool) []string {
		w := httptest.NewRecorder()
		r := newResponse(w, testCodec(t), false, toAppliance)
		require.NoError(t, r.SetAcl(&a))
		bw, err := r.OutputStream()
		require.NoError(t, err)
		_, err = bw.Write([]byte("x"))
		require.NoError(t, err)
		return w.Header().Values("X-Gsa-External-Metadata")
	}

	headers := emit(true)
	require.Contains(t, headers, "google%3Aaclusers=alice")
	require.Contains(t, headers, "google%3Aaclinheritancetype=and-both-permit")
	require.Contains(t, headers, "google%3Aaclinheritfrom="+
		"http%3A%2F%2Flocalhost%3A5678%2Fdoc%2Fparent%3Fshare")

	require.Empty(t, emit(false))
}

func TestResponse_AbortAfterCommitDoesNotRewrite(t *testing.T) {
	w := httptest.NewRecorder()
	r := newResponse(w, testCodec(t), false, true)
	bw, err := r.OutputStream()
	require.NoError(t, err)
	_, err = bw.Write([]byte("body"))
	require.NoError(t, err)

	require.False(t, r.abort("too late"))
	require.Equal(t, 200, w.Code)
	require.Equal(t, "body", w.Body.String())
	// Writes after an abort fail.
	_, err = bw.Write([]byte("more"))
	require.ErrorIs(t, err, ErrIllegalState)
}
