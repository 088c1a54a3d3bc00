// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package registryv2

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/opencontainers/go-digest"
	"github.com/sapcc/go-api-declarations/cadf"

	"github.com/sapcc/packgate/internal/models"
)

// auditManifest is an audittools.Target.
type auditManifest struct {
	Repository models.DockerRepository
	Digest     digest.Digest
	Tags       []string
}

// Render implements the audittools.Target interface.
func (a auditManifest) Render() cadf.Resource {
	res := cadf.Resource{
		TypeURI: "package-registry/repository/manifest",
		Name:    fmt.Sprintf("%s@%s", a.Repository.Name, a.Digest),
		ID:      a.Digest.String(),
	}

	if len(a.Tags) > 0 {
		sort.Strings(a.Tags)
		tagsJSON, _ := json.Marshal(a.Tags)
		res.Attachments = []cadf.Attachment{{
			Name:    "tags",
			TypeURI: "mime:application/json",
			Content: string(tagsJSON),
		}}
	}

	return res
}

// auditTag is an audittools.Target.
type auditTag struct {
	Repository models.DockerRepository
	Digest     digest.Digest
	TagName    string
}

// Render implements the audittools.Target interface.
func (a auditTag) Render() cadf.Resource {
	return cadf.Resource{
		TypeURI: "package-registry/repository/tag",
		Name:    fmt.Sprintf("%s:%s", a.Repository.Name, a.TagName),
		ID:      a.Digest.String(),
	}
}

// auditBlob is an audittools.Target.
type auditBlob struct {
	Repository models.DockerRepository
	Digest     digest.Digest
}

// Render implements the audittools.Target interface.
func (a auditBlob) Render() cadf.Resource {
	return cadf.Resource{
		TypeURI: "package-registry/repository/blob",
		Name:    fmt.Sprintf("%s@%s", a.Repository.Name, a.Digest),
		ID:      a.Digest.String(),
	}
}
