// catalog_grpc.go: remote plugin catalog over gRPC with structpb payloads
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cast"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	catalogServiceName     = "pluginhost.Catalog"
	catalogAvailableMethod = "/" + catalogServiceName + "/Available"
	maxCatalogMessageSize  = 16 * 1024 * 1024
)

// GRPCCatalog asks a remote catalog service for the plugins available to
// this host. Requests and responses are google.protobuf.Struct messages, so
// no generated stubs are needed on either side.
//
// Request:  {"host_version": "3.1.0", "os": "linux", "arch": "amd64"}
// Response: {"plugins": [{"descriptor": {...}, "url": "...", "checksum": "..."}]}
type GRPCCatalog struct {
	conn    *grpc.ClientConn
	runtime Runtime
	timeout time.Duration
}

// NewGRPCCatalog creates a client for endpoint. Without dial options the
// connection uses insecure transport credentials.
func NewGRPCCatalog(endpoint string, rt Runtime, timeout time.Duration, opts ...grpc.DialOption) (*GRPCCatalog, error) {
	if endpoint == "" {
		return nil, NewCatalogError("catalog endpoint is required", nil)
	}
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	opts = append(opts, grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxCatalogMessageSize)))

	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, NewCatalogError("failed to create gRPC client", err)
	}
	return &GRPCCatalog{conn: conn, runtime: rt, timeout: timeout}, nil
}

// Available implements Catalog.
func (c *GRPCCatalog) Available(ctx context.Context) ([]*AvailablePlugin, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	request, err := structpb.NewStruct(map[string]interface{}{
		"host_version": c.runtime.HostVersion,
		"os":           c.runtime.OS,
		"arch":         c.runtime.Arch,
	})
	if err != nil {
		return nil, NewCatalogError("cannot encode catalog request", err)
	}

	response := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, catalogAvailableMethod, request, response); err != nil {
		return nil, NewCatalogError("catalog request failed", err)
	}
	return decodeCatalogResponse(response.AsMap())
}

// Close closes the connection.
func (c *GRPCCatalog) Close() error {
	return c.conn.Close()
}

func decodeCatalogResponse(payload map[string]interface{}) ([]*AvailablePlugin, error) {
	entries := cast.ToSlice(payload["plugins"])
	plugins := make([]*AvailablePlugin, 0, len(entries))
	for _, entry := range entries {
		fields := cast.ToStringMap(entry)
		descriptor := decodeDescriptorMap(cast.ToStringMap(fields["descriptor"]))
		if descriptor.LoadingPolicy == "" {
			descriptor.LoadingPolicy = PolicyHostFirst
		}
		if err := descriptor.Validate(); err != nil {
			return nil, NewCatalogError("catalog returned an invalid descriptor", err)
		}
		plugins = append(plugins, &AvailablePlugin{
			Descriptor: descriptor,
			URL:        cast.ToString(fields["url"]),
			Checksum:   cast.ToString(fields["checksum"]),
		})
	}
	return plugins, nil
}

func decodeDescriptorMap(fields map[string]interface{}) *PluginDescriptor {
	info := cast.ToStringMap(fields["information"])
	condition := cast.ToStringMap(fields["condition"])
	return &PluginDescriptor{
		SchemaVersion: cast.ToInt(fields["schema_version"]),
		Information: PluginInformation{
			Name:        cast.ToString(info["name"]),
			DisplayName: cast.ToString(info["display_name"]),
			Version:     cast.ToString(info["version"]),
			Description: cast.ToString(info["description"]),
			Author:      cast.ToString(info["author"]),
			Category:    cast.ToString(info["category"]),
		},
		Dependencies:         decodeReferences(fields["dependencies"]),
		OptionalDependencies: decodeReferences(fields["optional_dependencies"]),
		Condition: PluginCondition{
			OS:             cast.ToStringSlice(condition["os"]),
			Arch:           cast.ToStringSlice(condition["arch"]),
			MinHostVersion: cast.ToString(condition["min_host_version"]),
		},
		LoadingPolicy: LoadingPolicy(cast.ToString(fields["loading_policy"])),
	}
}

func decodeReferences(value interface{}) []NameAndVersion {
	items := cast.ToSlice(value)
	if len(items) == 0 {
		return nil
	}
	refs := make([]NameAndVersion, 0, len(items))
	for _, item := range items {
		fields := cast.ToStringMap(item)
		refs = append(refs, NameAndVersion{
			Name:    cast.ToString(fields["name"]),
			Version: cast.ToString(fields["version"]),
		})
	}
	return refs
}

func encodeCatalogResponse(plugins []*AvailablePlugin) (*structpb.Struct, error) {
	data, err := json.Marshal(plugins)
	if err != nil {
		return nil, err
	}
	var list []interface{}
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]interface{}{"plugins": list})
}

// CatalogServer serves a Catalog to GRPCCatalog clients. Plugins whose
// condition fails for the requesting runtime are left out.
type CatalogServer struct {
	catalog Catalog
	logger  Logger
}

type catalogService interface {
	available(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
}

// NewCatalogServer creates a server over catalog.
func NewCatalogServer(catalog Catalog, logger any) *CatalogServer {
	return &CatalogServer{catalog: catalog, logger: NewLogger(logger)}
}

// Register attaches the catalog service to server.
func (s *CatalogServer) Register(server *grpc.Server) {
	server.RegisterService(&catalogServiceDesc, s)
}

func (s *CatalogServer) available(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	fields := request.AsMap()
	rt := Runtime{
		OS:          cast.ToString(fields["os"]),
		Arch:        cast.ToString(fields["arch"]),
		HostVersion: cast.ToString(fields["host_version"]),
	}

	plugins, err := s.catalog.Available(ctx)
	if err != nil {
		s.logger.Error("Catalog lookup failed", "error", err)
		return nil, err
	}

	matching := make([]*AvailablePlugin, 0, len(plugins))
	for _, p := range plugins {
		if p.Descriptor.Condition.Check(rt).IsOK() {
			matching = append(matching, p)
		}
	}
	s.logger.Debug("Catalog request served",
		"os", rt.OS,
		"arch", rt.Arch,
		"host_version", rt.HostVersion,
		"plugins", len(matching))
	return encodeCatalogResponse(matching)
}

var catalogServiceDesc = grpc.ServiceDesc{
	ServiceName: catalogServiceName,
	HandlerType: (*catalogService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Available",
			Handler:    catalogAvailableHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pluginhost/catalog.proto",
}

func catalogAvailableHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(catalogService).available(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: catalogAvailableMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(catalogService).available(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
