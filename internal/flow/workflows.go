package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/TextCartHQ/TextCart/internal/catalog"
	"github.com/TextCartHQ/TextCart/internal/memory"
	"github.com/TextCartHQ/TextCart/internal/models"
	"github.com/TextCartHQ/TextCart/internal/recovery"
	"github.com/TextCartHQ/TextCart/internal/state"
)

// Context-data keys owned by the workflow handlers.
const (
	ctxKeyGSTIN           = "gstin"
	ctxKeyGSTPreference   = "gst_preference"
	ctxKeyShippingMethod  = "shipping_method"
	ctxKeyShippingAddress = "shipping_address"
	ctxKeyLastOrderRef    = "last_order_ref"
	ctxKeyLinkedChannel   = "linked_channel"
	ctxKeyAddressReturn   = "address_return_state"
)

// Counter linking codes are short letter-digit tokens, e.g. AB1234.
var linkCodeRe = regexp.MustCompile(`(?i)\b([a-z]{0,4}-?[0-9]{3,8})\b`)

// handleGreeting replies without moving the conversation; browsing starts
// when the customer first asks about a product.
func (o *Orchestrator) handleGreeting(ctx context.Context, conv *models.Conversation) (Result, error) {
	reply := "Hello! Welcome back. Send a product code for prices and availability, or 'catalog' to browse."
	if err := o.reply(ctx, conv, reply); err != nil {
		return Result{}, err
	}
	return Result{Handled: true, ResultTag: string(models.IntentGreeting)}, nil
}

// handleProductInfo answers availability questions for the extracted product
// codes and records them as the last quoted products.
func (o *Orchestrator) handleProductInfo(ctx context.Context, conv *models.Conversation, result models.ClassificationResult) (Result, error) {
	if len(result.Entities.ProductCodes) == 0 {
		if err := o.reply(ctx, conv, "Which product are you asking about? Please send the product code, e.g. 10x140."); err != nil {
			return Result{}, err
		}
		return Result{Handled: true, ResultTag: string(models.IntentProductInfo)}, nil
	}

	var lines []string
	var quoted []string
	for _, code := range result.Entities.ProductCodes {
		product, err := o.catalog.GetByCode(ctx, conv.TenantID, code)
		if err != nil {
			if errors.Is(err, catalog.ErrProductNotFound) {
				lines = append(lines, fmt.Sprintf("%s: sorry, we don't carry this one.", code))
				continue
			}
			return Result{}, &recovery.ExternalDependencyError{Dependency: recovery.CategoryCatalog, Err: err}
		}
		lines = append(lines, fmt.Sprintf("%s (%s): available at ₹%.2f per %s.", product.Code, product.Name, product.Price, product.Unit))
		quoted = append(quoted, product.Code)
	}

	if len(quoted) > 0 {
		if err := o.states.SaveLastQuoted(ctx, conv.ID, quoted); err != nil {
			slog.Warn("Orchestrator failed to save quoted products", "error", err, "conversationID", conv.ID)
		} else {
			conv.LastQuotedProducts = quoted
		}
		lines = append(lines, "Reply 'yes' with a quantity to order.")
	}
	o.quietTransition(ctx, conv, models.StateBrowsing)

	if err := o.reply(ctx, conv, strings.Join(lines, "\n")); err != nil {
		return Result{}, err
	}
	return Result{Handled: true, ResultTag: string(models.IntentProductInfo)}, nil
}

func (o *Orchestrator) handlePlaceOrder(ctx context.Context, conv *models.Conversation, result models.ClassificationResult) (Result, error) {
	return o.addToCart(ctx, conv, result, models.StateCartActive, string(models.IntentPlaceOrder))
}

func (o *Orchestrator) handleAddProduct(ctx context.Context, conv *models.Conversation, result models.ClassificationResult) (Result, error) {
	return o.addToCart(ctx, conv, result, models.StateMultiProductDiscussion, string(models.IntentAddProduct))
}

// addToCart resolves the extracted product and quantity, adds the line to the
// cart, and moves the conversation to the given state.
func (o *Orchestrator) addToCart(ctx context.Context, conv *models.Conversation, result models.ClassificationResult, nextState models.ConversationState, tag string) (Result, error) {
	if len(result.Entities.ProductCodes) == 0 {
		if err := o.reply(ctx, conv, "Which product would you like to order? Please send the product code."); err != nil {
			return Result{}, err
		}
		return Result{Handled: true, ResultTag: tag}, nil
	}

	product, err := o.resolveProduct(ctx, conv.TenantID, result.Entities.ProductCodes[0])
	if err != nil {
		return Result{}, err
	}
	if product == nil {
		reply := fmt.Sprintf("Sorry, we couldn't find %s in the catalog. Please check the code and try again.", result.Entities.ProductCodes[0])
		if err := o.reply(ctx, conv, reply); err != nil {
			return Result{}, err
		}
		return Result{Handled: true, ResultTag: tag}, nil
	}

	quantity := models.Quantity{Value: 1, Unit: product.Unit}
	if len(result.Entities.Quantities) > 0 {
		quantity = result.Entities.Quantities[0]
	}

	item := models.CartItem{ProductCode: product.Code, Quantity: quantity.Value, Unit: quantity.Unit}
	if err := o.cart.AddItem(ctx, conv.TenantID, conv.CustomerIdentifier, item); err != nil {
		return Result{}, &recovery.ExternalDependencyError{Dependency: recovery.CategoryCart, Err: err}
	}
	o.quietTransition(ctx, conv, nextState)
	if err := o.states.SaveLastQuoted(ctx, conv.ID, []string{product.Code}); err != nil {
		slog.Warn("Orchestrator failed to save quoted products", "error", err, "conversationID", conv.ID)
	} else {
		conv.LastQuotedProducts = []string{product.Code}
	}

	reply := fmt.Sprintf("Added %g %s of %s to your cart. Reply 'checkout' when you're ready, or keep adding products.",
		quantity.Value, quantity.Unit, product.Code)
	if err := o.reply(ctx, conv, reply); err != nil {
		return Result{}, err
	}
	return Result{Handled: true, ResultTag: tag}, nil
}

// resolveProduct looks a product up by exact code, falling back to a fuzzy
// name search. A nil product with nil error means a clean miss.
func (o *Orchestrator) resolveProduct(ctx context.Context, tenantID, code string) (*models.Product, error) {
	product, err := o.catalog.GetByCode(ctx, tenantID, code)
	if err == nil {
		return product, nil
	}
	if !errors.Is(err, catalog.ErrProductNotFound) {
		return nil, &recovery.ExternalDependencyError{Dependency: recovery.CategoryCatalog, Err: err}
	}

	matches, err := o.catalog.SearchByName(ctx, tenantID, code)
	if err != nil {
		return nil, &recovery.ExternalDependencyError{Dependency: recovery.CategoryCatalog, Err: err}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	found := matches[0]
	return &found, nil
}

// handleQuantityUpdate replaces the quantity of the most recently discussed
// product.
func (o *Orchestrator) handleQuantityUpdate(ctx context.Context, conv *models.Conversation, result models.ClassificationResult, snapshot *models.MemorySnapshot) (Result, error) {
	code := ""
	switch {
	case len(result.Entities.ProductCodes) > 0:
		code = result.Entities.ProductCodes[0]
	case len(conv.LastQuotedProducts) > 0:
		code = conv.LastQuotedProducts[len(conv.LastQuotedProducts)-1]
	case snapshot != nil && len(snapshot.Products) > 0:
		code = snapshot.Products[len(snapshot.Products)-1]
	}
	if code == "" || len(result.Entities.Quantities) == 0 {
		if err := o.reply(ctx, conv, "Which product and quantity should I update? E.g. '10x140 8 cartons'."); err != nil {
			return Result{}, err
		}
		return Result{Handled: true, ResultTag: string(models.IntentQuantityUpdate)}, nil
	}

	quantity := result.Entities.Quantities[0]
	item := models.CartItem{ProductCode: code, Quantity: quantity.Value, Unit: quantity.Unit}
	if err := o.cart.ReplaceItem(ctx, conv.TenantID, conv.CustomerIdentifier, item); err != nil {
		return Result{}, &recovery.ExternalDependencyError{Dependency: recovery.CategoryCart, Err: err}
	}

	reply := fmt.Sprintf("Updated %s to %g %s.", code, quantity.Value, quantity.Unit)
	if err := o.reply(ctx, conv, reply); err != nil {
		return Result{}, err
	}
	return Result{Handled: true, ResultTag: string(models.IntentQuantityUpdate)}, nil
}

// handleAddressUpdate records a new delivery address. A message that merely
// requests the change ("I want to change my delivery address") opens the
// address slot instead of being stored as the address itself; the slot
// remembers the current state so the detour returns there afterwards.
func (o *Orchestrator) handleAddressUpdate(ctx context.Context, conv *models.Conversation, text string) (Result, error) {
	if !looksLikeAddress(text) {
		if err := o.setContextValue(ctx, conv, ctxKeyAddressReturn, string(conv.State)); err != nil {
			return Result{}, err
		}
		if err := o.states.SetState(ctx, conv.TenantID, conv.CustomerIdentifier, models.StateAwaitingAddress, true); err != nil {
			return Result{}, err
		}
		conv.State = models.StateAwaitingAddress
		if err := o.reply(ctx, conv, "Sure, please send the full delivery address with area and pincode."); err != nil {
			return Result{}, err
		}
		return Result{Handled: true, ResultTag: string(models.IntentAddressUpdate)}, nil
	}

	if err := o.setContextValue(ctx, conv, ctxKeyShippingAddress, strings.TrimSpace(text)); err != nil {
		return Result{}, err
	}
	if err := o.reply(ctx, conv, "Got it, I've updated your delivery address."); err != nil {
		return Result{}, err
	}
	return Result{Handled: true, ResultTag: string(models.IntentAddressUpdate)}, nil
}

func (o *Orchestrator) handleInvoiceRequest(ctx context.Context, conv *models.Conversation) (Result, error) {
	reply := "I couldn't find a recent order to invoice. Once your order is placed, just ask for the invoice again."
	if ref := conv.ContextData[ctxKeyLastOrderRef]; ref != "" {
		reply = fmt.Sprintf("Your invoice for order %s is being prepared and will be sent here shortly.", ref)
	}
	if err := o.reply(ctx, conv, reply); err != nil {
		return Result{}, err
	}
	return Result{Handled: true, ResultTag: string(models.IntentInvoiceRequest)}, nil
}

func (o *Orchestrator) handleDiscountNegotiation(ctx context.Context, conv *models.Conversation) (Result, error) {
	reply := "Our listed prices are already wholesale rates. For large orders (10+ cartons) we can discuss bulk pricing, just tell me the product and quantity."
	if err := o.reply(ctx, conv, reply); err != nil {
		return Result{}, err
	}
	return Result{Handled: true, ResultTag: string(models.IntentDiscountNegotiation)}, nil
}

func (o *Orchestrator) handleCatalogRequest(ctx context.Context, conv *models.Conversation) (Result, error) {
	reply := "I'll share our latest catalog with you shortly. Meanwhile, send any product code (e.g. 10x140) for its price and availability."
	if err := o.reply(ctx, conv, reply); err != nil {
		return Result{}, err
	}
	return Result{Handled: true, ResultTag: string(models.IntentCatalogRequest)}, nil
}

// handleOrderConfirmation turns a confirmation into a cart addition for the
// last quoted products. When the quoted-products context is missing (a known
// race between quote persistence and the confirmation), the most recent
// bot message is re-parsed and resolved against the catalog as a
// compensating action.
func (o *Orchestrator) handleOrderConfirmation(ctx context.Context, conv *models.Conversation, result models.ClassificationResult, snapshot *models.MemorySnapshot) (Result, error) {
	if conv.State == models.StateCheckoutReady {
		return o.finalizeOrder(ctx, conv)
	}

	quoted := conv.LastQuotedProducts
	if len(quoted) == 0 {
		quoted = o.recoverQuotedProducts(ctx, conv)
	}
	if len(quoted) == 0 {
		if err := o.reply(ctx, conv, "Which product would you like to confirm? Please send the product code and quantity."); err != nil {
			return Result{}, err
		}
		return Result{Handled: true, ResultTag: string(models.IntentOrderConfirmation)}, nil
	}

	quantity := models.Quantity{Value: 1}
	switch {
	case len(result.Entities.Quantities) > 0:
		quantity = result.Entities.Quantities[0]
	case snapshot != nil && len(snapshot.Quantities) > 0:
		quantity = snapshot.Quantities[len(snapshot.Quantities)-1]
	}

	var added []string
	for _, code := range quoted {
		product, err := o.resolveProduct(ctx, conv.TenantID, code)
		if err != nil {
			return Result{}, err
		}
		if product == nil {
			slog.Warn("Orchestrator quoted product missing from catalog, skipping", "code", code, "conversationID", conv.ID)
			continue
		}
		unit := quantity.Unit
		if unit == "" {
			unit = product.Unit
		}
		item := models.CartItem{ProductCode: product.Code, Quantity: quantity.Value, Unit: unit}
		if err := o.cart.AddItem(ctx, conv.TenantID, conv.CustomerIdentifier, item); err != nil {
			return Result{}, &recovery.ExternalDependencyError{Dependency: recovery.CategoryCart, Err: err}
		}
		added = append(added, product.Code)
	}

	if len(added) == 0 {
		if err := o.reply(ctx, conv, "Sorry, I couldn't match that to a product. Please send the product code and quantity."); err != nil {
			return Result{}, err
		}
		return Result{Handled: true, ResultTag: string(models.IntentOrderConfirmation)}, nil
	}

	o.quietTransition(ctx, conv, models.StateCartActive)
	reply := fmt.Sprintf("Confirmed! %s added to your cart. Reply 'checkout' to proceed.", strings.Join(added, ", "))
	if err := o.reply(ctx, conv, reply); err != nil {
		return Result{}, err
	}
	return Result{Handled: true, ResultTag: string(models.IntentOrderConfirmation)}, nil
}

// recoverQuotedProducts re-parses the most recent bot message for product
// codes when the quoted-products context was lost.
func (o *Orchestrator) recoverQuotedProducts(ctx context.Context, conv *models.Conversation) []string {
	messages, err := o.store.GetRecentMessages(conv.ID, models.MemoryWindowSize)
	if err != nil {
		slog.Warn("Orchestrator quote recovery fetch failed", "error", err, "conversationID", conv.ID)
		return nil
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Sender != models.SenderBot {
			continue
		}
		if codes := memory.ExtractEntities(messages[i].Body).ProductCodes; len(codes) > 0 {
			slog.Info("Orchestrator recovered quoted products from bot message", "conversationID", conv.ID, "codes", codes)
			return codes
		}
	}
	return nil
}

func (o *Orchestrator) handleCartView(ctx context.Context, conv *models.Conversation) (Result, error) {
	items, err := o.cart.View(ctx, conv.TenantID, conv.CustomerIdentifier)
	if err != nil {
		return Result{}, &recovery.ExternalDependencyError{Dependency: recovery.CategoryCart, Err: err}
	}

	reply := "Your cart is empty. Send a product code to get started."
	if len(items) > 0 {
		var b strings.Builder
		b.WriteString("Your cart:")
		for _, item := range items {
			fmt.Fprintf(&b, "\n- %s: %g %s", item.ProductCode, item.Quantity, item.Unit)
		}
		b.WriteString("\nReply 'checkout' to proceed or 'clear cart' to start over.")
		reply = b.String()
	}
	if err := o.reply(ctx, conv, reply); err != nil {
		return Result{}, err
	}
	return Result{Handled: true, ResultTag: TagCartViewed}, nil
}

func (o *Orchestrator) handleCartClear(ctx context.Context, conv *models.Conversation) (Result, error) {
	if err := o.cart.Clear(ctx, conv.TenantID, conv.CustomerIdentifier); err != nil {
		return Result{}, &recovery.ExternalDependencyError{Dependency: recovery.CategoryCart, Err: err}
	}
	o.quietTransition(ctx, conv, models.StateBrowsing)
	if err := o.reply(ctx, conv, "Done, your cart is empty. Send a product code whenever you're ready."); err != nil {
		return Result{}, err
	}
	return Result{Handled: true, ResultTag: TagCartCleared}, nil
}

// handleCheckout opens the checkout sub-flow, starting with GST collection.
func (o *Orchestrator) handleCheckout(ctx context.Context, conv *models.Conversation) (Result, error) {
	items, err := o.cart.View(ctx, conv.TenantID, conv.CustomerIdentifier)
	if err != nil {
		return Result{}, &recovery.ExternalDependencyError{Dependency: recovery.CategoryCart, Err: err}
	}
	if len(items) == 0 {
		if err := o.reply(ctx, conv, "Your cart is empty. Add a product first, e.g. '10x140 5 cartons'."); err != nil {
			return Result{}, err
		}
		return Result{Handled: true, ResultTag: TagCheckout}, nil
	}

	if err := o.transition(ctx, conv, models.StateAwaitingGST); err != nil {
		var invalid *state.InvalidTransitionError
		if errors.As(err, &invalid) {
			if err := o.reply(ctx, conv, "We can't start checkout right now. Reply 'view cart' to review your order first."); err != nil {
				return Result{}, err
			}
			return Result{Handled: true, ResultTag: TagCheckout}, nil
		}
		return Result{}, err
	}

	if err := o.reply(ctx, conv, "Let's complete your order. Please send your 15-character GSTIN, or reply 'no gst' to continue without one."); err != nil {
		return Result{}, err
	}
	return Result{Handled: true, ResultTag: TagCheckout}, nil
}

// finalizeOrder places the order from CHECKOUT_READY.
func (o *Orchestrator) finalizeOrder(ctx context.Context, conv *models.Conversation) (Result, error) {
	orderRef, err := o.cart.Checkout(ctx, conv.TenantID, conv.CustomerIdentifier)
	if err != nil {
		return Result{}, &recovery.ExternalDependencyError{Dependency: recovery.CategoryCheckout, Err: err}
	}
	if err := o.setContextValue(ctx, conv, ctxKeyLastOrderRef, orderRef); err != nil {
		slog.Warn("Orchestrator failed to record order ref", "error", err, "conversationID", conv.ID)
	}
	o.quietTransition(ctx, conv, models.StateOrderPlaced)

	reply := fmt.Sprintf("Your order %s is placed! We'll send the invoice and dispatch details here. Thank you for your business.", orderRef)
	if err := o.reply(ctx, conv, reply); err != nil {
		return Result{}, err
	}
	slog.Info("Orchestrator order placed", "conversationID", conv.ID, "orderRef", orderRef)
	return Result{Handled: true, ResultTag: TagOrderPlaced}, nil
}

// handleChannelLink links an external channel session (counter/QR code).
func (o *Orchestrator) handleChannelLink(ctx context.Context, conv *models.Conversation, text string) (Result, error) {
	match := linkCodeRe.FindStringSubmatch(text)
	if match == nil {
		if err := o.reply(ctx, conv, "Please send the linking code shown at the counter, e.g. 'link AB1234'."); err != nil {
			return Result{}, err
		}
		return Result{Handled: true, ResultTag: TagChannelLinked}, nil
	}

	code := strings.ToUpper(match[1])
	if err := o.setContextValue(ctx, conv, ctxKeyLinkedChannel, code); err != nil {
		return Result{}, err
	}
	if err := o.reply(ctx, conv, fmt.Sprintf("Linked to session %s. Your orders here will appear at the counter.", code)); err != nil {
		return Result{}, err
	}
	return Result{Handled: true, ResultTag: TagChannelLinked}, nil
}

func (o *Orchestrator) handleAccountSetup(ctx context.Context, conv *models.Conversation, text string) (Result, error) {
	o.saveCustomerMessage(ctx, conv, text, &models.ClassificationResult{Intent: models.IntentAccountSetup, Confidence: 1, Method: models.MethodRule})
	reply := "Great, let's set up your business account! Our onboarding team will message you here shortly with the registration steps."
	if err := o.reply(ctx, conv, reply); err != nil {
		return Result{}, err
	}
	return Result{Handled: true, ResultTag: TagAccountSetup}, nil
}
