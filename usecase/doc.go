// Package usecase is the application layer between the transports (CLI, MCP)
// and the repositories. Each operation delegates to one repository call;
// the layer exists so transports depend on one narrow type and tests can
// swap the repositories.
//
// Usage:
//
//	api := rest.NewClient(cfg.APIURL, store)
//	svc := usecase.New(usecase.Repositories{
//		Courts:   api.Courts(),
//		Bookings: api.Bookings(),
//		Users:    api.Users(),
//		Auth:     api.Auth(),
//		Matches:  api.Matches(),
//		Chat:     api.Chat(),
//	}, store)
//
//	courts, err := svc.ListCourts(ctx)
package usecase
