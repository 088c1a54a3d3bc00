// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package registryv2

import (
	"net/http"
	"strconv"
	"testing"

	"github.com/sapcc/go-api-declarations/cadf"
	"github.com/sapcc/go-bits/assert"
	"github.com/sapcc/go-bits/easypg"
	"github.com/sapcc/go-bits/httpapi"

	"github.com/sapcc/packgate/internal/auth"
	"github.com/sapcc/packgate/internal/models"
	"github.com/sapcc/packgate/internal/test"
)

func TestMain(m *testing.M) {
	easypg.WithTestDB(m, func() int { return m.Run() })
}

const (
	versionHeaderKey   = "Docker-Distribution-Api-Version"
	versionHeaderValue = "registry/2.0"
)

var versionHeader = map[string]string{versionHeaderKey: versionHeaderValue}

type testSetup struct {
	test.Setup
	Handler http.Handler
	// Token is a usable bearer token that allows pushing.
	Token string
	// TokenID is the database ID of that token.
	TokenID int64
}

func setup(t *testing.T) testSetup {
	t.Helper()
	s := test.NewSetup(t)

	authorizer := auth.NewAuthorizer(s.DB).OverrideTimeNow(s.Clock.Now)
	handler := httpapi.Compose(
		NewAPI(s.Cfg, s.SD, s.DB, authorizer, s.Auditor).
			OverrideTimeNow(s.Clock.Now).
			OverrideGenerateStorageID(s.SIDGen.Next),
		httpapi.WithoutLogging(),
	)

	token := models.Token{Token: "supersecret", Name: "unittest", Enabled: true}
	s.MustInsert(t, &token)

	return testSetup{Setup: s, Handler: handler, Token: token.Token, TokenID: token.ID}
}

// tokenInitiator returns the audit event initiator for requests that
// authenticate with s.Token.
func (s testSetup) tokenInitiator() cadf.Resource {
	return cadf.Resource{
		TypeURI: "service/package-registry/token",
		Name:    "unittest",
		ID:      strconv.FormatInt(s.TokenID, 10),
	}
}

// uploadBlob pushes the given blob into the given repository using the
// monolithic upload flow.
func (s testSetup) uploadBlob(t *testing.T, repoName string, blob test.Bytes) {
	t.Helper()
	assert.HTTPRequest{
		Method: "POST",
		Path:   "/v2/" + repoName + "/blobs/uploads/?digest=" + blob.Digest.String(),
		Header: map[string]string{
			"Authorization":  "Bearer " + s.Token,
			"Content-Length": strconv.Itoa(len(blob.Contents)),
			"Content-Type":   "application/octet-stream",
		},
		Body:         assert.ByteData(blob.Contents),
		ExpectStatus: http.StatusCreated,
	}.Check(t, s.Handler)
}

// uploadManifest pushes the given manifest under the given reference.
func (s testSetup) uploadManifest(t *testing.T, repoName, reference string, contents test.Bytes) {
	t.Helper()
	assert.HTTPRequest{
		Method: "PUT",
		Path:   "/v2/" + repoName + "/manifests/" + reference,
		Header: map[string]string{
			"Authorization": "Bearer " + s.Token,
			"Content-Type":  contents.MediaType,
		},
		Body:         assert.ByteData(contents.Contents),
		ExpectStatus: http.StatusCreated,
		ExpectHeader: map[string]string{
			"Docker-Content-Digest": contents.Digest.String(),
		},
	}.Check(t, s.Handler)
}

// expectBlobExists checks that the given blob can be pulled anonymously.
func (s testSetup) expectBlobExists(t *testing.T, repoName string, blob test.Bytes) {
	t.Helper()
	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/v2/" + repoName + "/blobs/" + blob.Digest.String(),
		ExpectStatus: http.StatusOK,
		ExpectHeader: map[string]string{
			versionHeaderKey:        versionHeaderValue,
			"Docker-Content-Digest": blob.Digest.String(),
			"Content-Length":        strconv.Itoa(len(blob.Contents)),
		},
		ExpectBody: assert.ByteData(blob.Contents),
	}.Check(t, s.Handler)
}
