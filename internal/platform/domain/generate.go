package domain

//go:generate mockgen -destination=../mock/client_mock.go -package=mock github.com/smallbiznis/orderguard/internal/platform/domain Client
