package manifest

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/scille/parsec-core/ids"
)

// Encode serializes m to its wire form. Every variant has its own encode
// function rather than a single reflective encoder, per §9's replacement for
// the source's dynamic manifest dispatch.
func Encode(m Manifest) ([]byte, error) {
	switch v := m.(type) {
	case FileManifest:
		return encodeEnvelope(KindFile, v)
	case FolderManifest:
		return encodeEnvelope(KindFolder, v)
	case WorkspaceManifest:
		return encodeEnvelope(KindWorkspace, v)
	case UserManifest:
		return encodeEnvelope(KindUser, v)
	default:
		return nil, errors.Errorf("encode: unknown manifest kind %T", m)
	}
}

// Decode parses the wire form produced by Encode, dispatching on the
// embedded kind tag.
func Decode(data []byte) (Manifest, error) {
	var env struct {
		Kind Kind            `json:"kind"`
		Body json.RawMessage `json:"body"`
	}

	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "decode manifest envelope")
	}

	switch env.Kind {
	case KindFile:
		var w fileWire
		if err := json.Unmarshal(env.Body, &w); err != nil {
			return nil, errors.Wrap(err, "decode file manifest")
		}

		return w.toManifest(), nil

	case KindFolder:
		var w folderWire
		if err := json.Unmarshal(env.Body, &w); err != nil {
			return nil, errors.Wrap(err, "decode folder manifest")
		}

		return w.toManifest(), nil

	case KindWorkspace:
		var w workspaceWire
		if err := json.Unmarshal(env.Body, &w); err != nil {
			return nil, errors.Wrap(err, "decode workspace manifest")
		}

		return w.toManifest(), nil

	case KindUser:
		var w userWire
		if err := json.Unmarshal(env.Body, &w); err != nil {
			return nil, errors.Wrap(err, "decode user manifest")
		}

		return w.toManifest(), nil

	default:
		return nil, errors.Errorf("decode: unknown manifest kind %d", env.Kind)
	}
}

func encodeEnvelope(kind Kind, body interface{}) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %v manifest body", kind)
	}

	return json.Marshal(struct {
		Kind Kind            `json:"kind"`
		Body json.RawMessage `json:"body"`
	}{Kind: kind, Body: raw})
}

// baseWire is the JSON projection of Base, with Author rendered as an
// omittable string.
type baseWire struct {
	ID      ids.EntryID `json:"id"`
	Version uint64      `json:"version"`
	Created time.Time   `json:"created"`
	Updated time.Time   `json:"updated"`
	Author  *ids.DeviceID `json:"author,omitempty"`
}

func (b Base) toWire() baseWire {
	return baseWire{ID: b.ID, Version: b.Version, Created: b.Created, Updated: b.Updated, Author: b.Author}
}

func (w baseWire) toBase() Base {
	return Base{ID: w.ID, Version: w.Version, Created: w.Created, Updated: w.Updated, Author: w.Author}
}

type fileWire struct {
	baseWire
	Parent    ids.EntryID   `json:"parent"`
	Size      uint64        `json:"size"`
	BlockSize uint64        `json:"block_size"`
	Blocks    []BlockAccess `json:"blocks"`
}

func (m FileManifest) wire() fileWire {
	return fileWire{baseWire: m.Base.toWire(), Parent: m.Parent, Size: m.Size, BlockSize: m.BlockSize, Blocks: m.Blocks}
}

func (w fileWire) toManifest() Manifest {
	return FileManifest{Base: w.toBase(), Parent: w.Parent, Size: w.Size, BlockSize: w.BlockSize, Blocks: w.Blocks}
}

// MarshalJSON lets FileManifest participate directly in json.Marshal (used
// by encodeEnvelope via reflection on the concrete type).
func (m FileManifest) MarshalJSON() ([]byte, error) { return json.Marshal(m.wire()) }

type folderWire struct {
	baseWire
	Parent   ids.EntryID                  `json:"parent"`
	Children map[ids.EntryName]ids.EntryID `json:"children"`
}

func (m FolderManifest) wire() folderWire {
	return folderWire{baseWire: m.Base.toWire(), Parent: m.Parent, Children: m.Children}
}

func (w folderWire) toManifest() Manifest {
	return FolderManifest{Base: w.toBase(), Parent: w.Parent, Children: w.Children}
}

func (m FolderManifest) MarshalJSON() ([]byte, error) { return json.Marshal(m.wire()) }

type workspaceWire struct {
	baseWire
	Children map[ids.EntryName]ids.EntryID `json:"children"`
}

func (m WorkspaceManifest) wire() workspaceWire {
	return workspaceWire{baseWire: m.Base.toWire(), Children: m.Children}
}

func (w workspaceWire) toManifest() Manifest {
	return WorkspaceManifest{Base: w.toBase(), Children: w.Children}
}

func (m WorkspaceManifest) MarshalJSON() ([]byte, error) { return json.Marshal(m.wire()) }

type userWire struct {
	baseWire
	LastProcessedMessage uint64           `json:"last_processed_message"`
	Workspaces           []WorkspaceEntry `json:"workspaces"`
}

func (m UserManifest) wire() userWire {
	return userWire{baseWire: m.Base.toWire(), LastProcessedMessage: m.LastProcessedMessage, Workspaces: m.Workspaces}
}

func (w userWire) toManifest() Manifest {
	return UserManifest{Base: w.toBase(), LastProcessedMessage: w.LastProcessedMessage, Workspaces: w.Workspaces}
}

func (m UserManifest) MarshalJSON() ([]byte, error) { return json.Marshal(m.wire()) }
