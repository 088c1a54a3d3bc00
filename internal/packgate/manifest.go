// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package packgate

import (
	"fmt"

	"github.com/containers/image/v5/manifest"
	"github.com/containers/image/v5/types"
	imagespecs "github.com/opencontainers/image-spec/specs-go/v1"
)

// ParsedManifest is an interface that can interrogate manifests about the
// blobs and submanifests referenced therein.
type ParsedManifest interface {
	// FindImageConfigBlob returns the descriptor of the blob containing this
	// manifest's image configuration, or nil if the manifest does not have an
	// image configuration.
	FindImageConfigBlob() *types.BlobInfo
	// BlobReferences returns all blobs referenced by this manifest.
	BlobReferences() []manifest.LayerInfo
	// ManifestReferences returns all manifests referenced by this manifest.
	ManifestReferences() []imagespecs.Descriptor
}

// ManifestMediaTypes is the list of manifest media types that we can parse
// and thus accept on push.
var ManifestMediaTypes = []string{
	manifest.DockerV2ListMediaType,
	manifest.DockerV2Schema2MediaType,
	imagespecs.MediaTypeImageIndex,
	imagespecs.MediaTypeImageManifest,
}

// IsManifestMediaType returns whether the given media type appears in
// ManifestMediaTypes.
func IsManifestMediaType(mediaType string) bool {
	for _, mt := range ManifestMediaTypes {
		if mt == mediaType {
			return true
		}
	}
	return false
}

// ParseManifest parses a manifest of one of the types in ManifestMediaTypes.
func ParseManifest(mediaType string, contents []byte) (ParsedManifest, error) {
	switch mediaType {
	case manifest.DockerV2ListMediaType:
		m, err := manifest.Schema2ListFromManifest(contents)
		if err != nil {
			return nil, err
		}
		return v2ManifestListAdapter{m}, nil
	case manifest.DockerV2Schema2MediaType:
		m, err := manifest.Schema2FromManifest(contents)
		if err != nil {
			return nil, err
		}
		return v2ManifestAdapter{m}, nil
	case imagespecs.MediaTypeImageIndex:
		m, err := manifest.OCI1IndexFromManifest(contents)
		if err != nil {
			return nil, err
		}
		return ociIndexAdapter{m}, nil
	case imagespecs.MediaTypeImageManifest:
		m, err := manifest.OCI1FromManifest(contents)
		if err != nil {
			return nil, err
		}
		return ociManifestAdapter{m}, nil
	default:
		return nil, fmt.Errorf("unsupported manifest media type: %q", mediaType)
	}
}

// v2ManifestListAdapter provides the ParsedManifest interface for the contained type.
type v2ManifestListAdapter struct {
	m *manifest.Schema2List
}

func (a v2ManifestListAdapter) FindImageConfigBlob() *types.BlobInfo {
	return nil
}

func (a v2ManifestListAdapter) BlobReferences() []manifest.LayerInfo {
	return nil
}

func (a v2ManifestListAdapter) ManifestReferences() []imagespecs.Descriptor {
	result := make([]imagespecs.Descriptor, 0, len(a.m.Manifests))
	for _, m := range a.m.Manifests {
		platform := imagespecs.Platform{
			Architecture: m.Platform.Architecture,
			OS:           m.Platform.OS,
			OSVersion:    m.Platform.OSVersion,
			OSFeatures:   m.Platform.OSFeatures,
			Variant:      m.Platform.Variant,
		}
		result = append(result, imagespecs.Descriptor{
			MediaType: m.MediaType,
			Digest:    m.Digest,
			Size:      m.Size,
			URLs:      m.URLs,
			Platform:  &platform,
		})
	}
	return result
}

// v2ManifestAdapter provides the ParsedManifest interface for the contained type.
type v2ManifestAdapter struct {
	m *manifest.Schema2
}

func (a v2ManifestAdapter) FindImageConfigBlob() *types.BlobInfo {
	config := a.m.ConfigInfo()
	return &config
}

func (a v2ManifestAdapter) BlobReferences() []manifest.LayerInfo {
	references := []manifest.LayerInfo{{BlobInfo: a.m.ConfigInfo()}}
	return append(references, a.m.LayerInfos()...)
}

func (a v2ManifestAdapter) ManifestReferences() []imagespecs.Descriptor {
	return nil
}

// ociIndexAdapter provides the ParsedManifest interface for the contained type.
type ociIndexAdapter struct {
	m *manifest.OCI1Index
}

func (a ociIndexAdapter) FindImageConfigBlob() *types.BlobInfo {
	return nil
}

func (a ociIndexAdapter) BlobReferences() []manifest.LayerInfo {
	return nil
}

func (a ociIndexAdapter) ManifestReferences() []imagespecs.Descriptor {
	return a.m.Manifests
}

// ociManifestAdapter provides the ParsedManifest interface for the contained type.
type ociManifestAdapter struct {
	m *manifest.OCI1
}

func (a ociManifestAdapter) FindImageConfigBlob() *types.BlobInfo {
	// ORAS images have application-specific config MediaTypes that we do not
	// know how to inspect, so only report the standard one.
	if a.m.Config.MediaType == imagespecs.MediaTypeImageConfig {
		config := a.m.ConfigInfo()
		return &config
	}
	return nil
}

func (a ociManifestAdapter) BlobReferences() []manifest.LayerInfo {
	references := []manifest.LayerInfo{{BlobInfo: a.m.ConfigInfo()}}
	return append(references, a.m.LayerInfos()...)
}

func (a ociManifestAdapter) ManifestReferences() []imagespecs.Descriptor {
	return nil
}
