package main

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Manifest is the key import file:
//
//	pools:
//	  - title_id: 7f0c...
//	    platform_id: 2b91...
//	    codes: [AAAA-BBBB, CCCC-DDDD]
type Manifest struct {
	Pools []Pool `yaml:"pools"`
}

type Pool struct {
	TitleID    string   `yaml:"title_id"`
	PlatformID string   `yaml:"platform_id"`
	Codes      []string `yaml:"codes"`
}

type parsedPool struct {
	TitleID    uuid.UUID
	PlatformID uuid.UUID
	Codes      []string
}

func parseManifest(r io.Reader) ([]parsedPool, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if len(m.Pools) == 0 {
		return nil, fmt.Errorf("manifest has no pools")
	}

	out := make([]parsedPool, 0, len(m.Pools))
	for i, p := range m.Pools {
		titleID, err := uuid.Parse(p.TitleID)
		if err != nil {
			return nil, fmt.Errorf("pool %d: title_id: %w", i, err)
		}
		platformID, err := uuid.Parse(p.PlatformID)
		if err != nil {
			return nil, fmt.Errorf("pool %d: platform_id: %w", i, err)
		}
		out = append(out, parsedPool{TitleID: titleID, PlatformID: platformID, Codes: p.Codes})
	}
	return out, nil
}
