// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package test

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/containers/image/v5/manifest"
	"github.com/opencontainers/go-digest"

	"github.com/sapcc/packgate/internal/models"
)

// Bytes groups a bytestring with its digest.
type Bytes struct {
	Contents  []byte
	Digest    digest.Digest
	MediaType string
}

// NewBytes makes a new Bytes instance.
func NewBytes(contents []byte) Bytes {
	return newBytesWithMediaType(contents, "application/octet-stream")
}

func newBytesWithMediaType(contents []byte, mediaType string) Bytes {
	return Bytes{contents, digest.Canonical.FromBytes(contents), mediaType}
}

// GenerateExampleLayer generates a blob of 1 MiB that can be used like an
// image layer when constructing image manifests for unit tests. The contents
// are generated deterministically from the given seed.
func GenerateExampleLayer(seed int64) Bytes {
	return GenerateExampleLayerSize(seed, 1)
}

// GenerateExampleLayerSize generates a blob of a configurable size that can
// be used like an image layer when constructing image manifests for unit
// tests. The contents are generated deterministically from the given seed.
func GenerateExampleLayerSize(seed, sizeMiB int64) Bytes {
	r := rand.New(rand.NewSource(seed)) //nolint:gosec // deterministic contents are the point here
	buf := make([]byte, sizeMiB<<20)
	r.Read(buf)

	var gzipped bytes.Buffer
	w := gzip.NewWriter(&gzipped)
	w.Write(buf) //nolint:errcheck
	w.Close()

	return newBytesWithMediaType(gzipped.Bytes(), manifest.DockerV2Schema2LayerMediaType)
}

// Image contains all the pieces of a Docker image. The Layers and Config
// must be uploaded to the registry as blobs before the Manifest can be
// pushed.
type Image struct {
	Layers   []Bytes
	Config   Bytes
	Manifest Bytes
}

// GenerateImage makes an Image from the given layers in a deterministic
// manner.
func GenerateImage(layers ...Bytes) Image {
	config := map[string]any{
		"architecture": "amd64",
		"os":           "linux",
		"config": map[string]any{
			"Env": []string{
				"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
			},
			"Cmd": []string{"/bin/sh"},
		},
		"rootfs": map[string]any{
			"type": "layers",
		},
	}

	history := []map[string]any{}
	for _, layer := range layers {
		history = append(history, map[string]any{
			"created_by": fmt.Sprintf("/bin/sh -c #(nop) ADD file:%s in / ", layer.Digest),
		})
	}
	config["history"] = history

	configBytes, err := json.Marshal(config)
	if err != nil {
		panic(err.Error())
	}
	configBytesObj := newBytesWithMediaType(configBytes, manifest.DockerV2Schema2ConfigMediaType)

	layerDescs := []map[string]any{}
	for _, layer := range layers {
		layerDescs = append(layerDescs, map[string]any{
			"mediaType": layer.MediaType,
			"size":      len(layer.Contents),
			"digest":    layer.Digest.String(),
		})
	}
	manifestBytes, err := json.Marshal(map[string]any{
		"schemaVersion": 2,
		"mediaType":     manifest.DockerV2Schema2MediaType,
		"config": map[string]any{
			"mediaType": configBytesObj.MediaType,
			"size":      len(configBytes),
			"digest":    configBytesObj.Digest.String(),
		},
		"layers": layerDescs,
	})
	if err != nil {
		panic(err.Error())
	}

	return Image{
		Layers:   layers,
		Config:   configBytesObj,
		Manifest: newBytesWithMediaType(manifestBytes, manifest.DockerV2Schema2MediaType),
	}
}

// SizeBytes returns the value that we expect in the DB column
// `manifests.size_bytes` for this image.
func (i Image) SizeBytes() uint64 {
	imageSize := len(i.Manifest.Contents)
	return uint64(imageSize)
}

// DigestRef returns the ManifestReference for this image's digest.
func (i Image) DigestRef() models.ManifestReference {
	return models.ManifestReference{Digest: i.Manifest.Digest}
}

// ImageList contains all the pieces of a multi-architecture Docker image.
// This type is used for testing the handling of manifests that reference
// other manifests.
type ImageList struct {
	Images   []Image
	Manifest Bytes
}

// GenerateImageList makes an ImageList containing the given images in a
// deterministic manner.
func GenerateImageList(images ...Image) ImageList {
	testArchStrings := []string{"amd64", "arm", "arm64", "386", "ppc64le", "s390x"}
	manifestDescs := []map[string]any{}
	for idx, img := range images {
		manifestDescs = append(manifestDescs, map[string]any{
			"mediaType": img.Manifest.MediaType,
			"size":      len(img.Manifest.Contents),
			"digest":    img.Manifest.Digest.String(),
			"platform": map[string]string{
				"os":           "linux",
				"architecture": testArchStrings[idx],
			},
		})
	}

	manifestListBytes, err := json.Marshal(map[string]any{
		"schemaVersion": 2,
		"mediaType":     manifest.DockerV2ListMediaType,
		"manifests":     manifestDescs,
	})
	if err != nil {
		panic(err.Error())
	}

	return ImageList{
		Images:   images,
		Manifest: newBytesWithMediaType(manifestListBytes, manifest.DockerV2ListMediaType),
	}
}

// DigestRef returns the ManifestReference for this list manifest's digest.
func (l ImageList) DigestRef() models.ManifestReference {
	return models.ManifestReference{Digest: l.Manifest.Digest}
}
