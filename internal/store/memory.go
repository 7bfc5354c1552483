package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"lazone/api/internal/models"
	"lazone/api/internal/utils"
)

// MemoryStore is an in-process Store with the same conditional-write
// semantics as the Mongo adapter. It backs service tests and local runs.
type MemoryStore struct {
	mu            sync.Mutex
	accounts      map[utils.SixID]models.Account
	listings      map[utils.SixID]models.Listing
	payments      map[string]models.Payment // by transaction_ref
	credits       []models.CreditPurchase
	subscriptions map[utils.SixID]models.Subscription
	bookings      map[utils.SixID]models.Booking
	blocked       map[utils.SixID]map[time.Time]models.BlockedDate
	tokens        map[utils.SixID][]models.DeviceToken
	calendars     map[utils.SixID]int64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:      make(map[utils.SixID]models.Account),
		listings:      make(map[utils.SixID]models.Listing),
		payments:      make(map[string]models.Payment),
		subscriptions: make(map[utils.SixID]models.Subscription),
		bookings:      make(map[utils.SixID]models.Booking),
		blocked:       make(map[utils.SixID]map[time.Time]models.BlockedDate),
		tokens:        make(map[utils.SixID][]models.DeviceToken),
		calendars:     make(map[utils.SixID]int64),
	}
}

var _ Store = (*MemoryStore)(nil)

// --- Accounts ---

func (s *MemoryStore) GetAccount(_ context.Context, id utils.SixID) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s *MemoryStore) UpsertAccount(_ context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	account.UpdatedAt = now
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	s.accounts[account.ID] = *account
	return nil
}

func (s *MemoryStore) SetFreeListingLimit(_ context.Context, id utils.SixID, limit *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	if limit != nil {
		v := *limit
		limit = &v
	}
	a.FreeListingLimit = limit
	a.UpdatedAt = time.Now().UTC()
	s.accounts[id] = a
	return nil
}

func (s *MemoryStore) ConsumeFreeListing(_ context.Context, id utils.SixID, listingType models.ListingType, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		return false, nil
	}
	a, ok := s.accounts[id]
	if !ok {
		a = models.Account{Base: models.Base{ID: id}, CreatedAt: time.Now().UTC()}
	}
	if a.FreeListingsUsed.Used(listingType) >= limit {
		return false, nil
	}
	if listingType == models.ListingTypeShortTerm {
		a.FreeListingsUsed.ShortTerm++
	} else {
		a.FreeListingsUsed.LongTerm++
	}
	a.UpdatedAt = time.Now().UTC()
	s.accounts[id] = a
	return true, nil
}

// --- Listings ---

func (s *MemoryStore) InsertListing(_ context.Context, listing *models.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if listing.ID.IsZero() {
		listing.ID = utils.NewSixID()
	}
	if _, exists := s.listings[listing.ID]; exists {
		return ErrDuplicate
	}
	s.listings[listing.ID] = cloneListing(*listing)
	return nil
}

func (s *MemoryStore) GetListing(_ context.Context, id utils.SixID) (*models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok || l.Deleted {
		return nil, ErrNotFound
	}
	l = cloneListing(l)
	return &l, nil
}

func (s *MemoryStore) ListListingsByOwner(_ context.Context, owner utils.SixID) ([]models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Listing{}
	for _, l := range s.listings {
		if l.OwnerID == owner && !l.Deleted {
			out = append(out, cloneListing(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateListing(_ context.Context, id, owner utils.SixID, set map[string]interface{}) (*models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok || l.Deleted || l.OwnerID != owner {
		return nil, ErrNotFound
	}
	for k, v := range set {
		switch k {
		case "title":
			l.Title = v.(string)
		case "description":
			l.Description = v.(string)
		case "price":
			l.Price = v.(float64)
		case "currency":
			l.Currency = v.(string)
		case "price_per_night":
			l.PricePerNight = v.(float64)
		case "minimum_stay":
			l.MinimumStay = v.(int)
		case "discount_tiers":
			l.DiscountTiers = v.([]models.DiscountTier)
		case "city":
			l.City = v.(string)
		case "country":
			l.Country = v.(string)
		}
	}
	l.UpdatedAt = time.Now().UTC()
	s.listings[id] = l
	l = cloneListing(l)
	return &l, nil
}

func (s *MemoryStore) MarkListingPublished(_ context.Context, id, owner utils.SixID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok || l.Deleted || l.OwnerID != owner {
		return ErrNotFound
	}
	if l.PublishedAt == nil {
		l.PublishedAt = &at
		l.UpdatedAt = at
		s.listings[id] = l
	}
	return nil
}

func (s *MemoryStore) ClaimListingPublish(_ context.Context, id, owner utils.SixID, at, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok || l.Deleted || l.OwnerID != owner {
		return false, ErrNotFound
	}
	if l.IsActive || (l.PublishClaimedAt != nil && !l.PublishClaimedAt.Before(staleBefore)) {
		return false, nil
	}
	l.PublishClaimedAt = &at
	s.listings[id] = l
	return true, nil
}

func (s *MemoryStore) ReleaseListingClaim(_ context.Context, id utils.SixID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if ok && l.PublishClaimedAt != nil && l.PublishClaimedAt.Equal(at) {
		l.PublishClaimedAt = nil
		s.listings[id] = l
	}
	return nil
}

func (s *MemoryStore) ActivateListing(_ context.Context, id utils.SixID, source models.EntitlementSource, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok || l.Deleted {
		return false, ErrNotFound
	}
	if l.IsActive {
		return false, nil
	}
	l.IsActive = true
	l.EntitlementSource = source
	l.ActivatedAt = &at
	l.PublishClaimedAt = nil
	l.UpdatedAt = at
	s.listings[id] = l
	return true, nil
}

func (s *MemoryStore) AddListingImage(_ context.Context, id, owner utils.SixID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok || l.Deleted || l.OwnerID != owner {
		return ErrNotFound
	}
	l.Images = append(append([]string{}, l.Images...), key)
	l.UpdatedAt = time.Now().UTC()
	s.listings[id] = l
	return nil
}

func (s *MemoryStore) SoftDeleteListing(_ context.Context, id utils.SixID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok || l.Deleted {
		return ErrNotFound
	}
	l.Deleted = true
	l.IsActive = false
	l.UpdatedAt = time.Now().UTC()
	s.listings[id] = l
	return nil
}

func cloneListing(l models.Listing) models.Listing {
	l.Images = append([]string(nil), l.Images...)
	l.DiscountTiers = append([]models.DiscountTier(nil), l.DiscountTiers...)
	return l
}

// --- Payments ---

func (s *MemoryStore) InsertPayment(_ context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.payments[p.TransactionRef]; exists {
		return ErrDuplicate
	}
	p.GenIDIfEmpty()
	s.payments[p.TransactionRef] = *p
	return nil
}

func (s *MemoryStore) GetPaymentByRef(_ context.Context, ref string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) GetPaymentByProviderTransaction(_ context.Context, providerTxID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ProviderTransactionID == providerTxID {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) SetPaymentSession(_ context.Context, ref, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[ref]
	if !ok {
		return ErrNotFound
	}
	p.ProviderSessionID = sessionID
	p.UpdatedAt = time.Now().UTC()
	s.payments[ref] = p
	return nil
}

func (s *MemoryStore) CompletePayment(_ context.Context, p *models.Payment, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.payments[p.TransactionRef]
	if !ok {
		existing = *p
		existing.ID = utils.NewSixID()
		existing.CreatedAt = at
	} else if existing.Status != models.PaymentStatusPending {
		return false, nil
	}
	existing.Status = models.PaymentStatusCompleted
	existing.CompletedAt = &at
	existing.UpdatedAt = at
	if p.ProviderTransactionID != "" {
		existing.ProviderTransactionID = p.ProviderTransactionID
	}
	if p.ProviderSessionID != "" {
		existing.ProviderSessionID = p.ProviderSessionID
	}
	s.payments[p.TransactionRef] = existing
	return true, nil
}

func (s *MemoryStore) FailPayment(_ context.Context, ref, reason string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[ref]
	if !ok || p.Status != models.PaymentStatusPending {
		return false, nil
	}
	p.Status = models.PaymentStatusFailed
	p.FailureReason = reason
	p.UpdatedAt = at
	s.payments[ref] = p
	return true, nil
}

func (s *MemoryStore) FailOtherPendingPayments(_ context.Context, user, property utils.SixID, keepRef, reason string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for ref, p := range s.payments {
		if ref == keepRef || p.UserID != user || p.PropertyID == nil || *p.PropertyID != property {
			continue
		}
		if p.Status != models.PaymentStatusPending {
			continue
		}
		p.Status = models.PaymentStatusFailed
		p.FailureReason = reason
		p.UpdatedAt = at
		s.payments[ref] = p
		n++
	}
	return n, nil
}

func (s *MemoryStore) LatestPaymentForProperty(_ context.Context, user, property utils.SixID) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Payment
	for _, p := range s.payments {
		if p.UserID != user || p.PropertyID == nil || *p.PropertyID != property {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			cp := p
			latest = &cp
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

// --- Credits ---

func (s *MemoryStore) InsertCreditPurchase(_ context.Context, c *models.CreditPurchase) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.credits {
		if existing.TransactionID == c.TransactionID {
			return false, nil
		}
	}
	c.GenIDIfEmpty()
	s.credits = append(s.credits, *c)
	return true, nil
}

func (s *MemoryStore) SumAvailableCredits(_ context.Context, user utils.SixID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, c := range s.credits {
		if c.UserID == user && c.Status == models.CreditStatusActive && c.CreditsRemaining > 0 {
			total += c.CreditsRemaining
		}
	}
	return total, nil
}

func (s *MemoryStore) ConsumePurchasedCredit(_ context.Context, user utils.SixID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldest := -1
	for i, c := range s.credits {
		if c.UserID != user || c.Status != models.CreditStatusActive || c.CreditsRemaining <= 0 {
			continue
		}
		if oldest < 0 || c.CreatedAt.Before(s.credits[oldest].CreatedAt) {
			oldest = i
		}
	}
	if oldest < 0 {
		return false, nil
	}
	s.credits[oldest].CreditsRemaining--
	if s.credits[oldest].CreditsRemaining == 0 {
		s.credits[oldest].Status = models.CreditStatusExhausted
	}
	return true, nil
}

// --- Subscriptions ---

func (s *MemoryStore) GetSubscription(_ context.Context, user utils.SixID) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[user]
	if !ok {
		return nil, ErrNotFound
	}
	return &sub, nil
}

func (s *MemoryStore) UpsertSubscription(_ context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := s.subscriptions[sub.UserID]; ok {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
	} else {
		sub.GenIDIfEmpty()
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	s.subscriptions[sub.UserID] = *sub
	return nil
}

func (s *MemoryStore) ConsumeSubscriptionCredit(_ context.Context, user utils.SixID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[user]
	if !ok || !sub.ActiveUntil.After(now) || sub.CreditsRemaining <= 0 {
		return false, nil
	}
	sub.CreditsRemaining--
	sub.UpdatedAt = now
	s.subscriptions[user] = sub
	return true, nil
}

func (s *MemoryStore) RollSubscriptionPeriod(_ context.Context, user utils.SixID, credits int, now time.Time, period time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[user]
	if !ok {
		return false, ErrNotFound
	}
	if sub.NextResetAt.After(now) {
		return false, nil
	}
	sub.PeriodStart, sub.NextResetAt = nextPeriod(sub.NextResetAt, now, period)
	sub.CreditsRemaining = credits
	sub.UpdatedAt = now
	s.subscriptions[user] = sub
	return true, nil
}

func (s *MemoryStore) ListSubscriptionsDue(_ context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Subscription{}
	for _, sub := range s.subscriptions {
		if !sub.NextResetAt.After(now) && sub.ActiveUntil.After(now) {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextResetAt.Before(out[j].NextResetAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Bookings ---

func (s *MemoryStore) InsertBooking(_ context.Context, b *models.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.GenIDIfEmpty()
	if _, exists := s.bookings[b.ID]; exists {
		return ErrDuplicate
	}
	s.bookings[b.ID] = *b
	return nil
}

func (s *MemoryStore) GetBooking(_ context.Context, id utils.SixID) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (s *MemoryStore) ListBookings(_ context.Context, property utils.SixID, status models.BookingStatus, from time.Time) ([]models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Booking{}
	for _, b := range s.bookings {
		if b.PropertyID == property && b.Status == status && b.CheckOutDate.After(from) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckInDate.Before(out[j].CheckInDate) })
	return out, nil
}

func (s *MemoryStore) SetBookingStatus(_ context.Context, id utils.SixID, from, to models.BookingStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = to
	b.UpdatedAt = at
	s.bookings[id] = b
	return true, nil
}

func (s *MemoryStore) CalendarVersion(_ context.Context, property utils.SixID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calendars[property], nil
}

func (s *MemoryStore) AdvanceCalendar(_ context.Context, property utils.SixID, from int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calendars[property] != from {
		return false, nil
	}
	s.calendars[property] = from + 1
	return true, nil
}

func (s *MemoryStore) AddBlockedDates(_ context.Context, property utils.SixID, dates []time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	days, ok := s.blocked[property]
	if !ok {
		days = make(map[time.Time]models.BlockedDate)
		s.blocked[property] = days
	}
	now := time.Now().UTC()
	for _, d := range dates {
		if _, exists := days[d]; exists {
			continue
		}
		days[d] = models.BlockedDate{Base: models.NewBase(), PropertyID: property, Date: d, CreatedAt: now}
	}
	return nil
}

func (s *MemoryStore) RemoveBlockedDates(_ context.Context, property utils.SixID, dates []time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range dates {
		delete(s.blocked[property], d)
	}
	return nil
}

func (s *MemoryStore) ListBlockedDates(_ context.Context, property utils.SixID, from time.Time) ([]models.BlockedDate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.BlockedDate{}
	for d, bd := range s.blocked[property] {
		if !d.Before(from) {
			out = append(out, bd)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// --- Device tokens ---

func (s *MemoryStore) UpsertDeviceToken(_ context.Context, user utils.SixID, token, platform string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.tokens[user]
	for i := range list {
		if list[i].Token == token {
			list[i].Platform = platform
			list[i].UpdatedAt = at
			return nil
		}
	}
	s.tokens[user] = append(list, models.DeviceToken{
		Base:      models.NewBase(),
		UserID:    user,
		Token:     token,
		Platform:  platform,
		CreatedAt: at,
		UpdatedAt: at,
	})
	return nil
}

func (s *MemoryStore) ListDeviceTokens(_ context.Context, user utils.SixID) ([]models.DeviceToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]models.DeviceToken{}, s.tokens[user]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteDeviceToken(_ context.Context, user utils.SixID, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.tokens[user]
	for i := range list {
		if list[i].Token == token {
			s.tokens[user] = append(list[:i:i], list[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ClearLegacyPushToken(_ context.Context, user utils.SixID, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[user]
	if !ok || token == "" || a.PushToken != token {
		return false, nil
	}
	a.PushToken = ""
	a.UpdatedAt = time.Now().UTC()
	s.accounts[user] = a
	return true, nil
}
