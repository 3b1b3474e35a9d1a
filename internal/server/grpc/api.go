package grpcserver

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified admin service name.
const ServiceName = "appstore.admin.v1.Admin"

// SubmitPackageRequest uploads a package. UpdateOf names the entry being replaced.
type SubmitPackageRequest struct {
	Package     []byte `json:"package"`
	UpdateOf    string `json:"update_of,omitempty"`
	Vendor      string `json:"vendor,omitempty"`
	CategoryID  int64  `json:"category_id,omitempty"`
	IsTopApp    bool   `json:"is_top_app,omitempty"`
	Description string `json:"description,omitempty"`
}

// AppReply describes a catalog entry.
type AppReply struct {
	ID           string   `json:"id"`
	AppID        string   `json:"app_id"`
	Architecture string   `json:"architecture"`
	Version      string   `json:"version"`
	Name         string   `json:"name"`
	Vendor       string   `json:"vendor,omitempty"`
	CategoryID   int64    `json:"category_id,omitempty"`
	IsTopApp     bool     `json:"is_top_app,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Digest       string   `json:"digest"`
}

// RemoveAppRequest names an entry to delete.
type RemoveAppRequest struct {
	ID string `json:"id"`
}

// Empty is an empty message.
type Empty struct{}

// CreateCategoryRequest appends a category.
type CreateCategoryRequest struct {
	Name string `json:"name"`
}

// CategoryReply describes a category.
type CategoryReply struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Rank int64  `json:"rank"`
}

// MoveCategoryRequest swaps a category with its neighbour. Direction is "up" or "down".
type MoveCategoryRequest struct {
	ID        int64  `json:"id"`
	Direction string `json:"direction"`
}

// MoveCategoryReply reports whether the order changed.
type MoveCategoryReply struct {
	Moved bool `json:"moved"`
}

// ListCategoriesReply holds categories in display order.
type ListCategoriesReply struct {
	Categories []CategoryReply `json:"categories"`
}

// ReapExpiredReply reports how many download files were removed.
type ReapExpiredReply struct {
	Removed int `json:"removed"`
}

// AdminServer is the admin API.
type AdminServer interface {
	SubmitPackage(context.Context, *SubmitPackageRequest) (*AppReply, error)
	RemoveApp(context.Context, *RemoveAppRequest) (*Empty, error)
	CreateCategory(context.Context, *CreateCategoryRequest) (*CategoryReply, error)
	MoveCategory(context.Context, *MoveCategoryRequest) (*MoveCategoryReply, error)
	ListCategories(context.Context, *Empty) (*ListCategoriesReply, error)
	ReapExpired(context.Context, *Empty) (*ReapExpiredReply, error)
}

// FullMethod returns the RPC path of an admin method.
func FullMethod(name string) string { return "/" + ServiceName + "/" + name }

func unary[Req, Resp any](name string, call func(AdminServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if ic == nil {
				return call(srv.(AdminServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return ic(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(AdminServer), ctx, req.(*Req))
			})
		},
	}
}

// AdminServiceDesc describes the admin service for grpc.Server.RegisterService.
var AdminServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("SubmitPackage", AdminServer.SubmitPackage),
		unary("RemoveApp", AdminServer.RemoveApp),
		unary("CreateCategory", AdminServer.CreateCategory),
		unary("MoveCategory", AdminServer.MoveCategory),
		unary("ListCategories", AdminServer.ListCategories),
		unary("ReapExpired", AdminServer.ReapExpired),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "api/admin/v1/admin.proto",
}

// RegisterAdminServer registers srv on s.
func RegisterAdminServer(s grpc.ServiceRegistrar, srv AdminServer) {
	s.RegisterService(&AdminServiceDesc, srv)
}

// AdminClient calls the admin API with the JSON codec.
type AdminClient struct {
	cc grpc.ClientConnInterface
}

// NewAdminClient wraps a client connection.
func NewAdminClient(cc grpc.ClientConnInterface) *AdminClient { return &AdminClient{cc: cc} }

func invoke[Resp any](ctx context.Context, c *AdminClient, name string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, FullMethod(name), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AdminClient) SubmitPackage(ctx context.Context, in *SubmitPackageRequest, opts ...grpc.CallOption) (*AppReply, error) {
	return invoke[AppReply](ctx, c, "SubmitPackage", in, opts)
}

func (c *AdminClient) RemoveApp(ctx context.Context, in *RemoveAppRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c, "RemoveApp", in, opts)
}

func (c *AdminClient) CreateCategory(ctx context.Context, in *CreateCategoryRequest, opts ...grpc.CallOption) (*CategoryReply, error) {
	return invoke[CategoryReply](ctx, c, "CreateCategory", in, opts)
}

func (c *AdminClient) MoveCategory(ctx context.Context, in *MoveCategoryRequest, opts ...grpc.CallOption) (*MoveCategoryReply, error) {
	return invoke[MoveCategoryReply](ctx, c, "MoveCategory", in, opts)
}

func (c *AdminClient) ListCategories(ctx context.Context, opts ...grpc.CallOption) (*ListCategoriesReply, error) {
	return invoke[ListCategoriesReply](ctx, c, "ListCategories", &Empty{}, opts)
}

func (c *AdminClient) ReapExpired(ctx context.Context, opts ...grpc.CallOption) (*ReapExpiredReply, error) {
	return invoke[ReapExpiredReply](ctx, c, "ReapExpired", &Empty{}, opts)
}
