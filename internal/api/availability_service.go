package api

import (
	"context"
	"errors"
	"time"

	"petboarding/internal/database"
	"petboarding/internal/models"
	"petboarding/internal/service"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	availabilityServiceName = "petboarding.availability.v1.AvailabilityService"
	methodGetAvailability   = "/" + availabilityServiceName + "/GetAvailability"
	methodListPlannings     = "/" + availabilityServiceName + "/ListPlannings"
)

// AvailabilityServer is the read-only gRPC surface. Messages are google.protobuf.Struct.
//
//	GetAvailability {planning_id, from, to} -> {planning_id, days: [{date, max_capacity, reserved, available, defined}]}
//	ListPlannings   {active_only}           -> {plannings: [{id, prestation_id, name, is_active, daily_rate}]}
type AvailabilityServer interface {
	GetAvailability(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPlannings(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type AvailabilityService struct {
	booking *service.BookingService
}

func NewAvailabilityService(booking *service.BookingService) *AvailabilityService {
	return &AvailabilityService{booking: booking}
}

func RegisterAvailabilityServer(s grpc.ServiceRegistrar, srv AvailabilityServer) {
	s.RegisterService(&availabilityServiceDesc, srv)
}

func (s *AvailabilityService) GetAvailability(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	planningID := stringField(req, "planning_id")
	if planningID == "" {
		return nil, status.Error(codes.InvalidArgument, "planning_id is required")
	}
	from, err := dateField(req, "from")
	if err != nil {
		return nil, err
	}
	to, err := dateField(req, "to")
	if err != nil {
		return nil, err
	}

	days, err := s.booking.GetAvailability(ctx, planningID, from, to)
	if err != nil {
		return nil, grpcError(err)
	}

	out := make([]any, 0, len(days))
	for _, d := range days {
		out = append(out, map[string]any{
			"date":         d.Date.Format(models.DateLayout),
			"max_capacity": d.MaxCapacity,
			"reserved":     d.Reserved,
			"available":    d.Available,
			"defined":      d.Defined,
		})
	}
	return structpb.NewStruct(map[string]any{
		"planning_id": planningID,
		"days":        out,
	})
}

func (s *AvailabilityService) ListPlannings(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	activeOnly := req.GetFields()["active_only"].GetBoolValue()
	plannings, err := s.booking.ListPlannings(ctx, activeOnly)
	if err != nil {
		return nil, grpcError(err)
	}

	out := make([]any, 0, len(plannings))
	for _, p := range plannings {
		out = append(out, map[string]any{
			"id":            p.ID,
			"prestation_id": p.PrestationID,
			"name":          p.Name,
			"is_active":     p.IsActive,
			"daily_rate":    p.DailyRate.StringFixed(2),
		})
	}
	return structpb.NewStruct(map[string]any{"plannings": out})
}

func stringField(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}

func dateField(s *structpb.Struct, name string) (time.Time, error) {
	raw := stringField(s, name)
	if raw == "" {
		return time.Time{}, status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	d, err := models.ParseDate(raw)
	if err != nil {
		return time.Time{}, status.Errorf(codes.InvalidArgument, "invalid %s; expected YYYY-MM-DD", name)
	}
	return d, nil
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, models.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, models.ErrCapacity), errors.Is(err, models.ErrState):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func getAvailabilityHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AvailabilityServer).GetAvailability(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetAvailability}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AvailabilityServer).GetAvailability(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func listPlanningsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AvailabilityServer).ListPlannings(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListPlannings}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AvailabilityServer).ListPlannings(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var availabilityServiceDesc = grpc.ServiceDesc{
	ServiceName: availabilityServiceName,
	HandlerType: (*AvailabilityServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetAvailability", Handler: getAvailabilityHandler},
		{MethodName: "ListPlannings", Handler: listPlanningsHandler},
	},
	Streams: []grpc.StreamDesc{},
}
