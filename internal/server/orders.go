package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	guarddomain "github.com/smallbiznis/orderguard/internal/guard/domain"
	"github.com/smallbiznis/orderguard/pkg/db/pagination"
)

type orderActionRequest struct {
	Amount string `json:"amount"`
	TagRef string `json:"tag_ref"`
	Reason string `json:"reason"`
}

var listableStatuses = map[guarddomain.Status]struct{}{
	guarddomain.StatusPending:    {},
	guarddomain.StatusVerified:   {},
	guarddomain.StatusUnverified: {},
	guarddomain.StatusCaptured:   {},
	guarddomain.StatusCancelled:  {},
	guarddomain.StatusPaid:       {},
}

func (s *Server) ListOrders(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Status string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	status := guarddomain.Status(strings.ToLower(strings.TrimSpace(query.Status)))
	if status != "" {
		if _, ok := listableStatuses[status]; !ok {
			AbortWithError(c, newValidationError("status", "invalid_status", "invalid status"))
			return
		}
	}

	resp, err := s.guardSvc.List(c.Request.Context(), guarddomain.ListFilter{
		MerchantID: merchantFromContext(c),
		Status:     status,
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Orders, "page_info": resp.PageInfo})
}

func (s *Server) GetOrder(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	order, err := s.guardSvc.Get(c.Request.Context(), merchantFromContext(c), orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

// CaptureOrder is the merchant's manual approval of a held order.
func (s *Server) CaptureOrder(c *gin.Context) {
	s.orderAction(c, s.guardSvc.Capture)
}

// CancelOrder is the merchant's manual rejection of a held order.
func (s *Server) CancelOrder(c *gin.Context) {
	s.orderAction(c, s.guardSvc.Cancel)
}

func (s *Server) orderAction(c *gin.Context, act func(ctx context.Context, req guarddomain.ActionRequest) (*guarddomain.ActionResult, error)) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req orderActionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	resp, err := act(c.Request.Context(), guarddomain.ActionRequest{
		MerchantID: merchantFromContext(c),
		OrderID:    orderID,
		Amount:     strings.TrimSpace(req.Amount),
		Manual:     true,
		TagRef:     strings.TrimSpace(req.TagRef),
		Reason:     strings.TrimSpace(req.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// ResendVerificationEmail sends the verification link again, subject to the
// per-order cooldown.
func (s *Server) ResendVerificationEmail(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	order, err := s.emails.SendVerificationEmail(c.Request.Context(), merchantFromContext(c), orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

func orderIDParam(c *gin.Context) (int64, bool) {
	orderID, err := strconv.ParseInt(strings.TrimSpace(c.Param("order_id")), 10, 64)
	if err != nil || orderID <= 0 {
		AbortWithError(c, newValidationError("order_id", "invalid_order_id", "invalid order_id"))
		return 0, false
	}
	return orderID, true
}
