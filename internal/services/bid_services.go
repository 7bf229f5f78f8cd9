package services

import (
	"context"
	"slices"

	"github.com/senyabanana/procurement-service/internal/lock"
	"github.com/senyabanana/procurement-service/internal/logger"
	"github.com/senyabanana/procurement-service/internal/metrics"
	"github.com/senyabanana/procurement-service/internal/models"
	"github.com/senyabanana/procurement-service/internal/repository"
	"github.com/senyabanana/procurement-service/internal/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	maxImagesPerBid = 10
	recentBidsLimit = 5
)

type BidService struct {
	Repo    repository.BidRepository
	Orders  repository.OrderRepository
	Objects storage.ObjectStore
	section *orderSection
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewBidService создает новый экземпляр BidService. objects может быть nil,
// тогда предложения принимают только готовые ссылки на изображения.
func NewBidService(repo repository.BidRepository, orders repository.OrderRepository, objects storage.ObjectStore,
	locker lock.Locker, log *logger.Logger, m *metrics.Metrics) *BidService {
	if log == nil {
		log = logger.Nop()
	}
	return &BidService{
		Repo:    repo,
		Orders:  orders,
		Objects: objects,
		section: newOrderSection(locker, m),
		log:     log,
		metrics: m,
	}
}

// SubmitBid создает предложение пункта сбора по активному заказу. Изображения
// загружаются до создания предложения; при любой ошибке загруженные объекты удаляются.
func (s *BidService) SubmitBid(ctx context.Context, actor models.Actor, orderID string, req models.BidRequest) (*models.Bid, error) {
	if !actor.IsCenter() {
		return nil, models.NewPermissionError("only collection centers can submit bids")
	}
	if !req.Price.IsPositive() {
		return nil, models.NewValidationError("price must be positive")
	}
	if len(req.ImageRefs)+len(req.Images) > maxImagesPerBid {
		return nil, models.NewValidationError("a bid can carry at most %d images", maxImagesPerBid)
	}

	order, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.ActiveOrder {
		return nil, models.NewConflictError("order %s is not active (status %s)", orderID, order.Status)
	}

	uploaded, err := s.uploadImages(ctx, actor.UserID, req.Images)
	if err != nil {
		return nil, err
	}

	var bid *models.Bid
	err = s.section.run(ctx, orderID, func() error {
		var err error
		bid, err = s.Repo.CreateBid(ctx, models.Bid{
			ID:        uuid.NewString(),
			OrderID:   orderID,
			CenterID:  actor.UserID,
			Price:     req.Price,
			Notes:     req.Notes,
			ImageRefs: append(slices.Clone(req.ImageRefs), uploaded...),
		})
		return err
	})
	if err != nil {
		s.deleteObjects(ctx, uploaded)
		return nil, err
	}

	s.metrics.IncBidsSubmitted()
	s.log.Info(s.log.WithField(s.log.WithOrderID(ctx, orderID), "bid_id", bid.ID), "bid submitted")
	return bid, nil
}

// UpdateBid меняет цену, заметки или изображения предложения, пока оно в статусе pending.
func (s *BidService) UpdateBid(ctx context.Context, actor models.Actor, bidID string, update models.BidUpdate) (*models.Bid, error) {
	current, err := s.Repo.GetBid(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if !actor.IsCenter() || current.CenterID != actor.UserID {
		return nil, models.NewPermissionError("only the center that submitted bid %s can update it", bidID)
	}
	if update.Price != nil && !update.Price.IsPositive() {
		return nil, models.NewValidationError("price must be positive")
	}
	if update.Price == nil && update.Notes == nil && update.ImageRefs == nil && len(update.Images) == 0 {
		return nil, models.NewValidationError("no fields to update")
	}

	refs := update.ImageRefs
	if refs == nil && len(update.Images) > 0 {
		refs = current.ImageRefs
	}
	if len(refs)+len(update.Images) > maxImagesPerBid {
		return nil, models.NewValidationError("a bid can carry at most %d images", maxImagesPerBid)
	}

	uploaded, err := s.uploadImages(ctx, actor.UserID, update.Images)
	if err != nil {
		return nil, err
	}
	if refs != nil || len(uploaded) > 0 {
		update.ImageRefs = append(slices.Clone(refs), uploaded...)
		if update.ImageRefs == nil {
			update.ImageRefs = []string{}
		}
	}
	update.Images = nil

	var updated *models.Bid
	err = s.section.run(ctx, current.OrderID, func() error {
		var err error
		updated, err = s.Repo.UpdatePendingBid(ctx, bidID, update)
		return err
	})
	if err != nil {
		s.deleteObjects(ctx, uploaded)
		return nil, err
	}

	var dropped []string
	for _, ref := range current.ImageRefs {
		if !slices.Contains(updated.ImageRefs, ref) {
			dropped = append(dropped, ref)
		}
	}
	s.deleteObjects(ctx, dropped)
	return updated, nil
}

// WithdrawBid отзывает предложение. Доступно только пункту сбора, сделавшему предложение.
func (s *BidService) WithdrawBid(ctx context.Context, actor models.Actor, bidID string) (*models.Bid, error) {
	current, err := s.Repo.GetBid(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if !actor.IsCenter() || current.CenterID != actor.UserID {
		return nil, models.NewPermissionError("only the center that submitted bid %s can withdraw it", bidID)
	}

	var withdrawn *models.Bid
	err = s.section.run(ctx, current.OrderID, func() error {
		var err error
		withdrawn, err = s.Repo.WithdrawBid(ctx, bidID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info(s.log.WithField(s.log.WithOrderID(ctx, current.OrderID), "bid_id", bidID), "bid withdrawn")
	return withdrawn, nil
}

// AcceptBid принимает предложение от имени покупателя заказа. Остальные
// pending-предложения отклоняются, заказ переходит в in_progress. Из
// конкурирующих вызовов по одному заказу успешен ровно один, остальные
// получают ConflictError.
func (s *BidService) AcceptBid(ctx context.Context, actor models.Actor, bidID string) (*models.AcceptResult, error) {
	target, err := s.Repo.GetBid(ctx, bidID)
	if err != nil {
		return nil, err
	}
	order, err := s.Orders.GetOrder(ctx, target.OrderID)
	if err != nil {
		return nil, err
	}
	if !actor.IsBuyer() || order.BuyerID != actor.UserID {
		return nil, models.NewPermissionError("only the buyer who placed order %s can accept bids", order.ID)
	}

	var result *models.AcceptResult
	err = s.section.run(ctx, order.ID, func() error {
		var err error
		result, err = s.Repo.AcceptBid(ctx, bidID)
		return err
	})
	ctx = s.log.WithField(s.log.WithOrderID(ctx, order.ID), "bid_id", bidID)
	switch {
	case err == nil:
		s.metrics.IncAccept(metrics.OutcomeAccepted)
	case models.IsKind(err, models.ConflictError):
		s.metrics.IncAccept(metrics.OutcomeConflict)
		s.log.Warn(ctx, "bid acceptance lost the race", err)
		return nil, err
	default:
		s.metrics.IncAccept(metrics.OutcomeFailed)
		return nil, err
	}

	s.log.Info(s.log.WithField(ctx, "rejected", len(result.RejectedBids)), "bid accepted")
	return result, nil
}

// GetBid возвращает предложение его автору или покупателю заказа.
func (s *BidService) GetBid(ctx context.Context, actor models.Actor, bidID string) (*models.Bid, error) {
	bid, err := s.Repo.GetBid(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if actor.IsCenter() && bid.CenterID == actor.UserID {
		return bid, nil
	}
	if actor.IsBuyer() {
		order, err := s.Orders.GetOrder(ctx, bid.OrderID)
		if err != nil {
			return nil, err
		}
		if order.BuyerID == actor.UserID {
			return bid, nil
		}
	}
	return nil, models.NewPermissionError("bid %s is not visible to you", bidID)
}

// ListCenterBids возвращает все предложения пункта сбора.
func (s *BidService) ListCenterBids(ctx context.Context, actor models.Actor) ([]models.Bid, error) {
	if !actor.IsCenter() {
		return nil, models.NewPermissionError("only collection centers have bids")
	}
	return s.Repo.ListCenterBids(ctx, actor.UserID)
}

// CenterStats считает предложения пункта сбора и сумму принятых.
func (s *BidService) CenterStats(ctx context.Context, actor models.Actor) (*models.CenterStats, error) {
	bids, err := s.ListCenterBids(ctx, actor)
	if err != nil {
		return nil, err
	}

	stats := &models.CenterStats{
		TotalBids:     len(bids),
		TotalEarnings: decimal.Zero,
		RecentBids:    bids[:min(len(bids), recentBidsLimit)],
	}
	for _, b := range bids {
		switch b.Status {
		case models.PendingBid:
			stats.PendingBids++
		case models.AcceptedBid:
			stats.AcceptedBids++
			stats.TotalEarnings = stats.TotalEarnings.Add(b.Price)
		}
	}
	if stats.TotalBids > 0 {
		stats.SuccessRate = float64(stats.AcceptedBids) / float64(stats.TotalBids) * 100
	}
	return stats, nil
}

// uploadImages параллельно загружает изображения; при ошибке удаляет уже загруженные.
func (s *BidService) uploadImages(ctx context.Context, owner string, images []models.ImageUpload) ([]string, error) {
	if len(images) == 0 {
		return nil, nil
	}
	if s.Objects == nil {
		return nil, models.NewValidationError("image upload is not configured, pass image references instead")
	}

	refs := make([]string, len(images))
	g, gctx := errgroup.WithContext(ctx)
	for i, img := range images {
		g.Go(func() error {
			ref, err := s.Objects.Put(gctx, owner, img.Data)
			if err != nil {
				return err
			}
			refs[i] = ref
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.deleteObjects(ctx, refs)
		if models.KindOf(err) == models.InternalError {
			return nil, models.NewStorageError(err)
		}
		return nil, err
	}
	return refs, nil
}

func (s *BidService) deleteObjects(ctx context.Context, refs []string) {
	if s.Objects == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if err := s.Objects.Delete(ctx, ref); err != nil {
			s.log.Warn(ctx, "failed to delete uploaded image", err)
		}
	}
}
